package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/workflow"
)

// runOptions are the flags shared by run and chat
type runOptions struct {
	mode      string
	userID    string
	sessionID string
	provider  string
	framework string
	outDir    string
	asJSON    bool
	verbose   bool
	noColor   bool
}

var runOpts runOptions

func init() {
	runCmd.Flags().StringVarP(&runOpts.mode, "mode", "m", string(models.ModeBuilder), "builder or tutor")
	runCmd.Flags().StringVarP(&runOpts.userID, "user", "u", "", "user id, empty for a guest request")
	runCmd.Flags().StringVar(&runOpts.sessionID, "session", "", "session id")
	runCmd.Flags().StringVar(&runOpts.provider, "provider", "", "preferred executor provider")
	runCmd.Flags().StringVar(&runOpts.framework, "framework", "", "framework hint")
	runCmd.Flags().StringVarP(&runOpts.outDir, "out", "o", "", "write generated files and the plan to this directory")
	runCmd.Flags().BoolVar(&runOpts.asJSON, "json", false, "print the full result as JSON")
	runCmd.Flags().BoolVarP(&runOpts.verbose, "verbose", "v", false, "show state transitions")
	runCmd.Flags().BoolVar(&runOpts.noColor, "no-color", false, "disable colored output")
}

// runCmd executes one request
var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single request through the pipeline",
	Long: `Run one request and print the result.

Examples:
  # Generate a component
  nevra run "Build a responsive navbar component with dark mode in React"

  # Ask a question in tutor mode
  nevra run --mode tutor "what is a closure"

  # Save generated files and the plan
  nevra run -o ./out "Create a REST API for todos in Go"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	mode := models.Mode(runOpts.mode)
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q: must be builder or tutor", runOpts.mode)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	wc := &models.WorkflowContext{
		UserID:        runOpts.userID,
		SessionID:     runOpts.sessionID,
		Prompt:        strings.Join(args, " "),
		Mode:          mode,
		Provider:      runOpts.provider,
		FrameworkHint: runOpts.framework,
	}
	if wc.UserID != "" && wc.SessionID == "" {
		wc.SessionID = uuid.NewString()
	}

	out := cmd.OutOrStdout()
	result := runOnce(ctx, a.orchestrator, wc, out, runOpts)

	if runOpts.outDir != "" {
		written, err := writeArtifacts(runOpts.outDir, result)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
		}
	}

	if result.Metadata.FinalState == models.StateError {
		return fmt.Errorf("workflow failed: %s", result.Metadata.StopReason)
	}
	return nil
}

// runOnce executes wc with a progress display and prints the result
func runOnce(ctx context.Context, runner workflow.Runner, wc *models.WorkflowContext, out io.Writer, opts runOptions) *models.WorkflowResult {
	colors := !opts.noColor && !opts.asJSON
	display := newProgressDisplay(out, colors, colors && isTerminal(out), opts.verbose)
	if !opts.asJSON {
		wc.OnStatus = display.Status
		wc.OnStateChange = display.State
	}
	display.Start()

	result := runner.Execute(ctx, wc)
	display.Stop()

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return result
	}

	fmt.Fprintln(out)
	printResult(out, result, wc.Mode == models.ModeBuilder, colors)
	fmt.Fprintf(out, "\n%s\n\n", display.Summary(result))
	return result
}

// writeArtifacts writes generated files and the plan below dir and returns
// the written paths. Paths escaping dir are skipped.
func writeArtifacts(dir string, result *models.WorkflowResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var written []string
	write := func(name, content string) error {
		path := filepath.Join(root, filepath.FromSlash(name))
		if !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	for _, name := range sortedKeys(result.Files) {
		if err := write(name, result.Files[name]); err != nil {
			return written, err
		}
	}
	if result.Plan != nil {
		if err := write("PLAN.md", result.Plan.Markdown()); err != nil {
			return written, err
		}
	}
	return written, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
