package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/validator"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	sweepInterval    time.Duration
	sweepMetricsAddr string
	sweepNoMetrics   bool
	sweepOnce        bool
)

func init() {
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "time between sweeps (defaults to sweep.interval)")
	sweepCmd.Flags().StringVar(&sweepMetricsAddr, "metrics-addr", "", "address serving /metrics (defaults to sweep.metrics_addr)")
	sweepCmd.Flags().BoolVar(&sweepNoMetrics, "no-metrics", false, "do not serve metrics")
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "sweep once and exit")
}

func resetValidateCommandState() {
	sweepInterval = 0
	sweepMetricsAddr = ""
	sweepNoMetrics = false
	sweepOnce = false
}

var validateCmd = &cobra.Command{
	Use:   "validate [resource-id...]",
	Short: "Check that secret holders match readers",
	Long: `Compares each resource's readers, with group membership read fresh, against
the users holding a copy of its secret. Nothing is repaired; run
'aclsync sync' to fix what is reported.

Exits non-zero when a mismatch is found or a resource could not be checked.

Examples:
  aclsync validate
  aclsync validate <resource-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting validate command")
		spinner, cleanup := startSpinner("Validating resources...", verbose)
		defer cleanup()

		env, err := openEnv(cmd.Context(), spinner, "Validating resources...")
		if env == nil {
			return err
		}
		defer env.Close()

		report, err := workflows.Validate(cmd.Context(), env, workflows.ValidateOptions{ResourceIDs: args})
		if err != nil {
			spinner.FinalMSG = failMessage("Validation did not finish", err)
			return errReported
		}
		spinner.FinalMSG = reportMessage(report)
		if !report.Clean() {
			return errReported
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Validate every resource periodically",
	Long: `Runs validate over every resource on an interval until interrupted, serving
Prometheus metrics on /metrics. Every sweep is recorded in the audit log.

Examples:
  aclsync sweep --interval 5m --metrics-addr :9464
  aclsync sweep --once --no-metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting sweep command")
		// A long-running sweep logs instead of spinning.
		spinner, cleanup := startSpinner("Sweeping resources...", verbose || !sweepOnce)
		defer cleanup()

		env, err := openEnv(cmd.Context(), spinner, "Sweeping resources...")
		if env == nil {
			return err
		}
		defer env.Close()

		opts := workflows.SweepOptions{
			Interval:    sweepInterval,
			MetricsAddr: sweepMetricsAddr,
			NoMetrics:   sweepNoMetrics,
			Once:        sweepOnce,
		}
		if !sweepOnce {
			opts.OnSweep = func(report validator.SweepReport) {
				fmt.Println(reportMessage(report))
			}
		}
		report, err := workflows.Sweep(cmd.Context(), env, opts)
		if err != nil {
			spinner.FinalMSG = failMessage("Sweep failed", err)
			return errReported
		}
		if sweepOnce {
			spinner.FinalMSG = reportMessage(report)
			if !report.Clean() {
				return errReported
			}
			return nil
		}
		spinner.FinalMSG = ui.Info.Sprint("→") + " Sweep stopped"
		return nil
	},
}

func reportMessage(report validator.SweepReport) string {
	if report.Clean() {
		return ui.Success.Sprint("✓") + fmt.Sprintf(" %d resource(s) consistent", report.Checked)
	}

	var b strings.Builder
	b.WriteString(ui.Error.Sprint("✗") + fmt.Sprintf(" %d of %d resource(s) inconsistent or unchecked\n",
		len(report.Mismatches)+len(report.Errors), report.Checked))
	for _, m := range report.Mismatches {
		b.WriteString("\n  " + ui.Highlight.Sprint(m.ResourceID) + "\n")
		if len(m.Missing) > 0 {
			b.WriteString("      readers without a secret: " + strings.Join(m.Missing, ", ") + "\n")
		}
		if len(m.Extra) > 0 {
			b.WriteString("      secrets held by non-readers: " + strings.Join(m.Extra, ", ") + "\n")
		}
	}

	ids := make([]string, 0, len(report.Errors))
	for id := range report.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString("\n  " + ui.Highlight.Sprint(id) + "\n      " + ui.Error.Sprint(report.Errors[id].Error()) + "\n")
	}

	if len(report.Mismatches) > 0 {
		b.WriteString("\n" + ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("aclsync sync") + " to repair mismatched resources")
	}
	return b.String()
}
