package workflows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PolarWolf314/aclsync/internal/audit"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/metrics"
	"github.com/PolarWolf314/aclsync/internal/validator"
)

// ValidateOptions configures the validate workflow.
type ValidateOptions struct {
	// ResourceIDs limits the check. Empty means every resource.
	ResourceIDs []string
}

// Validate compares every resource's effective readers, using freshly read
// group membership, with the users holding a secret copy. Mismatches are
// reported, not repaired.
func Validate(ctx context.Context, env *Env, opts ValidateOptions) (validator.SweepReport, error) {
	var (
		report validator.SweepReport
		err    error
	)
	if len(opts.ResourceIDs) == 0 {
		report, err = newSweeper(env, validator.SweepOptions{}).SweepOnce(ctx)
		if err != nil {
			return report, err
		}
	} else {
		report = validator.SweepReport{Errors: make(map[string]error)}
		for _, id := range opts.ResourceIDs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++
			err := env.Engine.Validate(ctx, id)
			var mismatch *kerrors.ReaderSecretMismatchError
			switch {
			case err == nil:
			case errors.As(err, &mismatch):
				metrics.Mismatch()
				report.Mismatches = append(report.Mismatches, mismatch)
			default:
				report.Errors[id] = err
			}
		}
	}

	entry := audit.LogWithActor("validate", env.ActorID())
	entry.Resources = opts.ResourceIDs
	recordReport(&entry, report)
	audit.Log(entry)
	return report, nil
}

// SweepOptions configures the sweep workflow.
type SweepOptions struct {
	// Interval overrides sweep.interval.
	Interval time.Duration

	// MetricsAddr overrides sweep.metrics_addr. NoMetrics disables the
	// endpoint altogether.
	MetricsAddr string
	NoMetrics   bool

	// Once runs a single sweep and returns its report.
	Once bool

	// OnSweep is called after every sweep.
	OnSweep func(validator.SweepReport)
}

// Sweep validates every resource on an interval until ctx is done, serving
// Prometheus metrics while it runs. Every sweep is recorded in the audit log.
func Sweep(ctx context.Context, env *Env, opts SweepOptions) (validator.SweepReport, error) {
	metrics.Init()

	interval := opts.Interval
	if interval <= 0 {
		var err error
		if interval, err = env.Config.SweepInterval(); err != nil {
			return validator.SweepReport{}, err
		}
	}

	var last validator.SweepReport
	sweeper := newSweeper(env, validator.SweepOptions{
		Interval: interval,
		OnSweep: func(report validator.SweepReport) {
			last = report
			entry := audit.LogWithActor("sweep", env.ActorID())
			recordReport(&entry, report)
			audit.Log(entry)
			if opts.OnSweep != nil {
				opts.OnSweep(report)
			}
		},
	})

	if opts.Once {
		return sweeper.SweepOnce(ctx)
	}

	addr := opts.MetricsAddr
	if addr == "" {
		addr = env.Config.Sweep.MetricsAddr
	}
	if opts.NoMetrics || addr == "" {
		err := sweeper.Run(ctx)
		return last, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Logger.Infof("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	})
	err := g.Wait()
	return last, err
}

func newSweeper(env *Env, opts validator.SweepOptions) *validator.Sweeper {
	opts.Logger = env.Logger
	return validator.NewSweeper(env.Checker, env.Store, opts)
}

func recordReport(entry *audit.Entry, report validator.SweepReport) {
	entry.Checked = report.Checked
	for _, m := range report.Mismatches {
		entry.Mismatches = append(entry.Mismatches, audit.Mismatch{
			ResourceID: m.ResourceID,
			Missing:    m.Missing,
			Extra:      m.Extra,
		})
	}
	if n := len(report.Errors); n > 0 {
		entry.Failed = n
		entry.Error = fmt.Sprintf("%d resource(s) could not be checked", n)
	}
}
