package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/herald/internal/dialog"
	"github.com/neoclaw-ai/herald/internal/runtime"
)

// Ranks a member can hold, lowest first.
var ranks = []string{"member", "moderator", "admin"}

// Report reasons offered by /report.
var reportReasons = []struct {
	label       string
	description string
}{
	{label: "spam", description: "ads, link farms, repeated posts"},
	{label: "harassment", description: "insults or targeting a member"},
	{label: "off-topic", description: "does not belong in this chat"},
	{label: "other", description: "anything else"},
}

// Chat features toggled by /settings.
var features = []struct {
	key         string
	description string
}{
	{key: "welcome", description: "greet new members"},
	{key: "digest", description: "daily summary of reports"},
	{key: "slowmode", description: "limit messages per minute"},
	{key: "links", description: "allow links from new members"},
}

func (r *Router) rankDialog(ctx context.Context, d *dialog.Dialog, cmd *runtime.Command) (string, error) {
	member, err := normalizeMember(cmd.Args)
	if err != nil {
		member, err = dialog.Run[string](ctx, d, &dialog.TextStep[string]{
			Prompt: dialog.Static("Which member? Send their username."),
			Parse:  normalizeMember,
		})
		if err != nil {
			return "", err
		}
	}
	d.Context().Set("member", member)

	options := make([]dialog.SelectOption[string], 0, len(ranks))
	for _, rank := range ranks {
		options = append(options, dialog.SelectOption[string]{Label: rank, Result: dialog.Const(rank)})
	}
	rank, err := dialog.Run[string](ctx, d, &dialog.SelectStep[string]{
		Prompt:      dialog.Textf("Pick a new rank for %s.", "member"),
		Placeholder: "Rank",
		Options:     options,
	})
	if err != nil {
		return "", err
	}
	d.Context().Set("rank", rank)

	confirmed, err := dialog.Run[bool](ctx, d, &dialog.ButtonStep[bool]{
		Prompt: dialog.Textf("Make %s a %s?", "member", "rank"),
		Buttons: []dialog.ButtonChoice[bool]{
			{Label: "Confirm", Result: dialog.Const(true)},
			{Label: "Cancel", Result: dialog.Const(false)},
		},
	})
	if err != nil {
		return "", err
	}
	if !confirmed {
		return canceledText, nil
	}

	r.records.SetRank(cmd.ChatID, member, rank)
	return fmt.Sprintf("%s is now a %s.", member, rank), nil
}

// Severity grades a report.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Report is one member report filed with /report.
type Report struct {
	ChatID     int64
	ReporterID string
	Member     string
	Reason     string
	Severity   Severity
	FiledAt    time.Time
}

// reportForm asks for the reported member, the reason, and the urgency.
// Reacting with anything but the offered glyphs, or not reacting, files the
// report at medium severity.
func reportForm() *dialog.Form[Report] {
	form := dialog.NewForm[Report]()
	dialog.AddField(form, "member", func(*dialog.Dialog) dialog.Step[string] {
		return &dialog.TextStep[string]{
			Prompt: dialog.Static("Who are you reporting? Send their username."),
			Parse:  normalizeMember,
		}
	}, func(rep *Report, member string) { rep.Member = member })

	dialog.AddField(form, "reason", func(*dialog.Dialog) dialog.Step[string] {
		options := make([]dialog.SelectOption[string], 0, len(reportReasons))
		for _, reason := range reportReasons {
			options = append(options, dialog.SelectOption[string]{
				Label:       reason.label,
				Description: reason.description,
				Result:      dialog.Const(reason.label),
			})
		}
		return &dialog.SelectStep[string]{
			Prompt:      dialog.Textf("Why are you reporting %s?", "member"),
			Placeholder: "Reason",
			Options:     options,
		}
	}, func(rep *Report, reason string) { rep.Reason = reason })

	dialog.AddField(form, "severity", func(*dialog.Dialog) dialog.Step[Severity] {
		return dialog.NewReactionStep(
			dialog.Static("How urgent is it? 🟢 low, 🟡 medium, 🔴 high."),
			SeverityMedium,
			dialog.ReactionChoice[Severity]{Emoji: "🟢", Result: dialog.Const(SeverityLow)},
			dialog.ReactionChoice[Severity]{Emoji: "🟡", Result: dialog.Const(SeverityMedium)},
			dialog.ReactionChoice[Severity]{Emoji: "🔴", Result: dialog.Const(SeverityHigh)},
		)
	}, func(rep *Report, severity Severity) { rep.Severity = severity })
	return form
}

func (r *Router) reportDialog(ctx context.Context, d *dialog.Dialog, cmd *runtime.Command) (string, error) {
	report, err := dialog.RunForm(ctx, d, reportForm())
	if err != nil {
		return "", err
	}
	report.ChatID = cmd.ChatID
	report.ReporterID = cmd.UserID
	report.FiledAt = time.Now()
	r.records.AddReport(report)
	return fmt.Sprintf("Report filed: %s for %s (%s severity).", report.Member, report.Reason, report.Severity), nil
}

func (r *Router) settingsDialog(ctx context.Context, d *dialog.Dialog, cmd *runtime.Command) (string, error) {
	current := r.records.Features(cmd.ChatID)

	options := make([]dialog.SelectOption[string], 0, len(features))
	for _, feature := range features {
		options = append(options, dialog.SelectOption[string]{
			Label:       feature.key,
			Description: feature.description,
			Result:      dialog.Const(feature.key),
		})
	}
	enabled, err := dialog.Run[[]string](ctx, d, &dialog.MultiSelectStep[string]{
		Prompt:      dialog.Static("Which features should be on in this chat?"),
		Placeholder: "Features",
		Options:     options,
		MinValues:   1,
		MaxValues:   len(options),
		// Leaving the menu alone keeps the current settings.
		DefaultFunc: dialog.Const(current),
	})
	if err != nil {
		return "", err
	}

	r.records.SetFeatures(cmd.ChatID, enabled)
	if len(enabled) == 0 {
		return "No features enabled.", nil
	}
	return "Enabled: " + strings.Join(enabled, ", ") + ".", nil
}

// slowmodeDialog sets the minimum interval between messages. "off" or "no"
// disables it; a missing or unreadable interval is asked for.
func (r *Router) slowmodeDialog(ctx context.Context, d *dialog.Dialog, cmd *runtime.Command) (string, error) {
	arg := strings.TrimSpace(cmd.Args)
	if on, err := dialog.ParseBool(arg); err == nil && !on {
		r.records.SetSlowmode(cmd.ChatID, 0)
		return "Slow mode off.", nil
	}

	interval, err := dialog.ParseDuration(arg)
	if err != nil {
		interval, err = dialog.Run[time.Duration](ctx, d, &dialog.TextStep[time.Duration]{
			Prompt:    dialog.Static("How long should members wait between messages? For example 30s or 2m."),
			Parse:     dialog.ParseDuration,
			RetryText: "Send a duration such as 30s or 2m.",
		})
		if err != nil {
			return "", err
		}
	}

	r.records.SetSlowmode(cmd.ChatID, interval)
	return fmt.Sprintf("Slow mode on: one message every %s.", interval), nil
}
