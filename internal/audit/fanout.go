package audit

import (
	"context"
	"errors"
)

// Fanout appends to every repository; one failing sink does not stop the others.
type Fanout []Repository

func (f Fanout) Append(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range f {
		if err := r.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
