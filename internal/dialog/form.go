package dialog

import (
	"context"
	"errors"
	"fmt"
)

// Form collects a record R by running one step per field in declaration order.
type Form[R any] struct {
	fields []formField[R]
	errs   []error
}

type formField[R any] struct {
	name string
	run  func(ctx context.Context, d *Dialog, record *R) error
}

// NewForm creates an empty form.
func NewForm[R any]() *Form[R] {
	return &Form[R]{}
}

// AddField appends a field to f. step builds the field's step when the form
// reaches it, so prompts may depend on earlier answers. assign stores the
// step result into the record. The result is also kept in the dialog context
// under name.
func AddField[R, T any](f *Form[R], name string, step func(d *Dialog) Step[T], assign func(record *R, value T)) *Form[R] {
	switch {
	case name == "":
		f.errs = append(f.errs, errors.New("field name is required"))
		return f
	case step == nil:
		f.errs = append(f.errs, fmt.Errorf("field %q: step is required", name))
		return f
	case assign == nil:
		f.errs = append(f.errs, fmt.Errorf("field %q: assign is required", name))
		return f
	}
	for _, existing := range f.fields {
		if existing.name == name {
			f.errs = append(f.errs, fmt.Errorf("field %q: declared twice", name))
			return f
		}
	}

	f.fields = append(f.fields, formField[R]{
		name: name,
		run: func(ctx context.Context, d *Dialog, record *R) error {
			s := step(d)
			if s == nil {
				return fmt.Errorf("field %q: step factory returned nil", name)
			}
			value, err := Run(ctx, d, s)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			d.ctx.Set(name, value)
			assign(record, value)
			return nil
		},
	})
	return f
}

// Fields returns the field names in declaration order.
func (f *Form[R]) Fields() []string {
	names := make([]string, 0, len(f.fields))
	for _, field := range f.fields {
		names = append(names, field.name)
	}
	return names
}

// Validate reports every definition problem found while fields were added.
func (f *Form[R]) Validate() error {
	if len(f.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidForm, errors.Join(f.errs...))
	}
	if len(f.fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidForm)
	}
	return nil
}

// RunForm runs every field of f and returns the filled record. The first
// failing field stops the form.
func RunForm[R any](ctx context.Context, d *Dialog, f *Form[R]) (R, error) {
	var record R
	if err := f.Validate(); err != nil {
		return record, err
	}
	for _, field := range f.fields {
		if err := field.run(ctx, d, &record); err != nil {
			return record, err
		}
	}
	return record, nil
}
