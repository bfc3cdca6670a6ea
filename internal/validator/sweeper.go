package validator

import (
	"context"
	"errors"
	"time"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
	"github.com/PolarWolf314/aclsync/internal/metrics"
)

// Lister enumerates the resources to sweep.
type Lister interface {
	ListResourceIDs(ctx context.Context) ([]string, error)
}

type SweepOptions struct {
	Interval time.Duration
	Logger   logger.Logger

	// OnMismatch is called for every resource that fails validation.
	OnMismatch func(*kerrors.ReaderSecretMismatchError)

	// OnSweep is called after every completed sweep.
	OnSweep func(SweepReport)
}

type SweepReport struct {
	Checked    int
	Mismatches []*kerrors.ReaderSecretMismatchError

	// Errors holds resources that could not be checked.
	Errors map[string]error
}

// Clean reports whether every resource was checked and consistent.
func (r SweepReport) Clean() bool {
	return len(r.Mismatches) == 0 && len(r.Errors) == 0
}

// Sweeper validates every resource periodically.
type Sweeper struct {
	v      *Validator
	lister Lister
	opts   SweepOptions
}

func NewSweeper(v *Validator, lister Lister, opts SweepOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	return &Sweeper{v: v, lister: lister, opts: opts}
}

// SweepOnce validates every listed resource once.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Errors: make(map[string]error)}
	ids, err := s.lister.ListResourceIDs(ctx)
	if err != nil {
		metrics.Sweep("error")
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		err := s.v.Validate(ctx, id)
		if err == nil {
			continue
		}
		var mismatch *kerrors.ReaderSecretMismatchError
		if errors.As(err, &mismatch) {
			metrics.Mismatch()
			s.opts.Logger.Warnf("%v", mismatch)
			report.Mismatches = append(report.Mismatches, mismatch)
			if s.opts.OnMismatch != nil {
				s.opts.OnMismatch(mismatch)
			}
			continue
		}
		s.opts.Logger.Warnf("Could not validate resource %s: %v", id, err)
		report.Errors[id] = err
	}

	if report.Clean() {
		metrics.Sweep("clean")
	} else {
		metrics.Sweep("dirty")
	}
	s.opts.Logger.Infof("Swept %d resource(s), %d mismatch(es), %d error(s)", report.Checked, len(report.Mismatches), len(report.Errors))
	if s.opts.OnSweep != nil {
		s.opts.OnSweep(report)
	}
	return report, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.opts.Logger.Errorf("Sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
