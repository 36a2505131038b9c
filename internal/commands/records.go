package commands

import (
	"slices"
	"sync"
	"time"
)

// Records keeps dialog outcomes in memory.
type Records struct {
	mu       sync.Mutex
	ranks    map[rankKey]string
	reports  []Report
	features map[int64][]string
	slowmode map[int64]time.Duration
}

type rankKey struct {
	chatID int64
	member string
}

// NewRecords creates an empty record set.
func NewRecords() *Records {
	return &Records{
		ranks:    make(map[rankKey]string),
		features: make(map[int64][]string),
		slowmode: make(map[int64]time.Duration),
	}
}

func (r *Records) SetRank(chatID int64, member, rank string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranks[rankKey{chatID: chatID, member: member}] = rank
}

// Rank returns the rank last assigned to member in chatID.
func (r *Records) Rank(chatID int64, member string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rank, ok := r.ranks[rankKey{chatID: chatID, member: member}]
	return rank, ok
}

func (r *Records) AddReport(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// Reports returns filed reports, oldest first.
func (r *Records) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reports)
}

func (r *Records) SetFeatures(chatID int64, enabled []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[chatID] = slices.Clone(enabled)
}

// Features returns the features enabled in chatID.
func (r *Records) Features(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.features[chatID])
}

// SetSlowmode records the message interval for chatID. Zero turns it off.
func (r *Records) SetSlowmode(chatID int64, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if interval <= 0 {
		delete(r.slowmode, chatID)
		return
	}
	r.slowmode[chatID] = interval
}

func (r *Records) Slowmode(chatID int64) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	interval, ok := r.slowmode[chatID]
	return interval, ok
}
