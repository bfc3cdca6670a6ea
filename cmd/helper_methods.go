package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/briandowns/spinner"

	"github.com/PolarWolf314/aclsync/internal/acl"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/orchestrator"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/utils"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

// errReported is returned after the final message already explained what
// went wrong, so the process exits non-zero without printing twice.
var errReported = errors.New("command failed")

// Reported reports whether err was already shown to the user.
func Reported(err error) bool {
	return errors.Is(err, errReported)
}

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// IMPORTANT: spinner.FinalMSG values do NOT need trailing newlines. The cleanup function
// automatically calls ui.EnsureNewline() on the final message before printing it.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if !verbose && !debug {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if !verbose && !debug {
			s.Stop()
		}

		// Print final message to stdout (for tests to capture).
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// progressReporter counts finished resources into the spinner suffix, or
// logs every transition in verbose mode.
func progressReporter(s *spinner.Spinner, message string) func(string, orchestrator.State) {
	var done atomic.Int64
	return func(resourceID string, state orchestrator.State) {
		Logger.Debugf("Resource %s is %s", resourceID, state)
		if !state.Terminal() {
			return
		}
		n := done.Add(1)
		if verbose || debug {
			Logger.Infof("%s %s", ui.State(state.String()), resourceID)
			return
		}
		s.Lock()
		s.Suffix = fmt.Sprintf(" %s (%d done)", message, n)
		s.Unlock()
	}
}

// passphrasePrompt pauses the spinner while asking for the private key passphrase.
func passphrasePrompt(s *spinner.Spinner) func() ([]byte, error) {
	return func() ([]byte, error) {
		if s.Active() {
			s.Stop()
			defer s.Restart()
		}
		if utils.IsTerminal() {
			return utils.ReadPassphrase("Enter passphrase for private key: ")
		}
		return utils.ReadPassphraseFromTTY("Enter passphrase for private key: ")
	}
}

// openEnv opens the project for a command. When it returns a nil Env the
// spinner's final message already says why.
func openEnv(ctx context.Context, s *spinner.Spinner, message string) (*workflows.Env, error) {
	opts := workflows.EnvOptions{
		Logger:     Logger,
		Progress:   progressReporter(s, message),
		Passphrase: passphrasePrompt(s),
	}
	if privateKeyPath != "" {
		data, err := os.ReadFile(privateKeyPath)
		if err != nil {
			s.FinalMSG = failMessage("Couldn't read the private key at "+ui.Path.Sprint(privateKeyPath), err)
			return nil, errReported
		}
		opts.PrivateKey = data
	}

	env, err := workflows.OpenEnv(ctx, opts)
	if err != nil {
		if errors.Is(err, kerrors.ErrProjectNotInitialized) {
			s.FinalMSG = notInitializedMessage()
			return nil, nil
		}
		s.FinalMSG = failMessage("Couldn't open the project", err)
		return nil, errReported
	}
	return env, nil
}

func notInitializedMessage() string {
	return ui.Error.Sprint("✗") + " aclsync has not been initialized\n" +
		ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("aclsync init") + " first"
}

func failMessage(headline string, err error) string {
	return ui.Error.Sprint("✗") + " " + headline + "\n\n" +
		ui.Error.Sprint("Error: ") + err.Error()
}

// batchMessage formats the outcome of a share, move, rotate or sync batch.
func batchMessage(verb string, outcome *workflows.BatchOutcome) string {
	if outcome.DryRun {
		return dryRunMessage(verb, outcome.Plan)
	}

	result := outcome.Result
	if len(result.Items) == 0 {
		return ui.Success.Sprint("✓") + " Nothing to " + verb
	}

	counts := result.Counts()
	created, deleted := result.Totals()
	var b strings.Builder
	if result.Err() == nil {
		b.WriteString(ui.Success.Sprint("✓") + fmt.Sprintf(" %s %d resource(s)\n", pastTense(verb), len(result.Items)))
	} else {
		b.WriteString(ui.Warning.Sprint("⚠") + fmt.Sprintf(" %s %d of %d resource(s)\n",
			pastTense(verb), counts[orchestrator.StateValidated], len(result.Items)))
	}
	b.WriteString(fmt.Sprintf("  Secrets created: %d, deleted: %d %s\n\n", created, deleted, ui.Muted.Sprint("batch "+result.BatchID)))

	for _, item := range result.Items {
		b.WriteString("  " + ui.State(item.State.String()) + " " + item.ResourceID)
		if item.Err != nil {
			b.WriteString("\n      " + ui.Error.Sprint(item.Err.Error()))
		}
		b.WriteString("\n")
	}

	if failed := append(result.Failed(), result.Cancelled()...); len(failed) > 0 {
		b.WriteString("\n" + ui.Info.Sprint("→") + " Re-run for " + utils.FormatList(failed) + " once the cause is fixed")
	}
	return b.String()
}

func dryRunMessage(verb string, plan *orchestrator.BatchPlan) string {
	var b strings.Builder
	b.WriteString(ui.Warning.Sprint("[dry-run]") + fmt.Sprintf(" Would %s %d resource(s):\n\n", verb, len(plan.Items)))
	for _, item := range plan.Items {
		b.WriteString("  " + item.ResourceID + "\n")
		if item.Err != nil {
			b.WriteString("      " + ui.Error.Sprint(item.Err.Error()) + "\n")
			continue
		}
		cs := item.Preview
		if cs.Empty() {
			b.WriteString("      " + ui.Muted.Sprint("no changes") + "\n")
			continue
		}
		for _, s := range cs.AddedSubjects {
			b.WriteString("      + " + s.String() + "\n")
		}
		for _, s := range cs.RemovedSubjects {
			b.WriteString("      - " + s.String() + "\n")
		}
		for _, lc := range cs.LevelChanges {
			b.WriteString(fmt.Sprintf("      ~ %s %s → %s\n", lc.Subject, lc.From, lc.To))
		}
		if len(cs.AddedReaders) > 0 {
			b.WriteString("      secrets for: " + strings.Join(cs.AddedReaders, ", ") + "\n")
		}
		if len(cs.RemovedReaders) > 0 {
			b.WriteString("      secrets removed for: " + strings.Join(cs.RemovedReaders, ", ") + "\n")
		}
		if len(cs.Rekeyed) > 0 {
			b.WriteString("      re-encrypted for: " + strings.Join(cs.Rekeyed, ", ") + "\n")
		}
	}
	b.WriteString("\n" + ui.Info.Sprint("No changes made.") + " Run without --dry-run to execute.")
	return b.String()
}

func pastTense(verb string) string {
	switch verb {
	case "share":
		return "Shared"
	case "move":
		return "Moved"
	case "rotate":
		return "Rotated secrets of"
	case "sync":
		return "Synced"
	default:
		return verb
	}
}

// parseGrant parses "user:<id>=<level>" or "group:<id>=<level>".
func parseGrant(s string) (workflows.Grant, error) {
	subject, levelName, ok := strings.Cut(s, "=")
	if !ok {
		return workflows.Grant{}, fmt.Errorf("%w: grant %q must look like user:<id>=read", kerrors.ErrMalformedPermission, s)
	}
	kind, id, ok := strings.Cut(subject, ":")
	if !ok {
		return workflows.Grant{}, fmt.Errorf("%w: grant %q must name user:<id> or group:<id>", kerrors.ErrMalformedPermission, s)
	}
	var aro acl.Aro
	switch strings.ToLower(kind) {
	case "user":
		aro = acl.AroUser
	case "group":
		aro = acl.AroGroup
	default:
		return workflows.Grant{}, &kerrors.MalformedPermissionError{Field: "aro", Value: kind}
	}
	level, err := acl.ParseLevelName(levelName)
	if err != nil {
		return workflows.Grant{}, err
	}
	if err := acl.ValidateID("aro_foreign_key", id); err != nil {
		return workflows.Grant{}, err
	}
	return workflows.Grant{Subject: acl.Subject{Aro: aro, ID: id}, Level: level}, nil
}

// readInput reads a file, or stdin when path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return utils.ReadStdin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
