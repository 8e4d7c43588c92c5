package analysis

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/store"
)

// ErrPatternNotFound reports a status change against an unknown pattern id.
var ErrPatternNotFound = eris.New("analysis: pattern not found")

// SetPatternStatus moves a pattern to the requested status after checking
// the transition is a legal forward step. The store-level compare-and-set
// turns a concurrent status change into ErrInvalidTransition rather than
// silently overwriting whoever got there first.
func (a *Analyzer) SetPatternStatus(ctx context.Context, id string, next model.PatternStatus) (*model.CorrectionPattern, error) {
	if !next.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidTransition, "unknown status %q", string(next))
	}

	p, err := a.store.GetPattern(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: get pattern")
	}
	if p == nil {
		return nil, ErrPatternNotFound
	}
	if !p.Status.CanTransitionTo(next) {
		return nil, eris.Wrapf(model.ErrInvalidTransition, "%s -> %s", string(p.Status), string(next))
	}

	if err := a.store.UpdatePatternStatus(ctx, id, p.Status, next); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, eris.Wrapf(model.ErrInvalidTransition, "pattern %s changed concurrently", id)
		}
		return nil, eris.Wrap(err, "analysis: update pattern status")
	}

	p.Status = next
	return p, nil
}
