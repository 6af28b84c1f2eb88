package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/workflow"
)

var chatOpts runOptions

func init() {
	chatCmd.Flags().StringVarP(&chatOpts.mode, "mode", "m", string(models.ModeTutor), "builder or tutor")
	chatCmd.Flags().StringVarP(&chatOpts.userID, "user", "u", "", "user id, empty for a guest session")
	chatCmd.Flags().StringVar(&chatOpts.provider, "provider", "", "preferred executor provider")
	chatCmd.Flags().StringVar(&chatOpts.framework, "framework", "", "framework hint")
	chatCmd.Flags().BoolVarP(&chatOpts.verbose, "verbose", "v", false, "show state transitions")
	chatCmd.Flags().BoolVar(&chatOpts.noColor, "no-color", false, "disable colored output")
}

// chatCmd starts an interactive session
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Earlier turns are sent as history with
every request. Type /help for commands.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	mode := models.Mode(chatOpts.mode)
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q: must be builder or tutor", chatOpts.mode)
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

	printBanner(cmd.OutOrStdout(), cfg.Backend.URL)
	session := newChatSession(a.orchestrator, cmd.InOrStdin(), cmd.OutOrStdout(), chatOpts)
	return session.Run(ctx)
}

func printBanner(w io.Writer, backend string) {
	fmt.Fprintf(w, `
╔═════════════════════════════════════════════════════════╗
║               nevra interactive %-24s║
╚═════════════════════════════════════════════════════════╝

Backend: %s
Type /help for commands.

`, version, backend)
}

// chatSession is a read-eval loop over a workflow runner
type chatSession struct {
	runner    workflow.Runner
	in        io.Reader
	out       io.Writer
	opts      runOptions
	mode      models.Mode
	sessionID string
	history   []models.Message
}

func newChatSession(runner workflow.Runner, in io.Reader, out io.Writer, opts runOptions) *chatSession {
	return &chatSession{
		runner:    runner,
		in:        in,
		out:       out,
		opts:      opts,
		mode:      models.Mode(opts.mode),
		sessionID: uuid.NewString(),
	}
}

// Run reads prompts until EOF, /exit or ctx is cancelled
func (s *chatSession) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(s.out, "You [%s]: ", s.mode)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := s.handleCommand(input); quit {
				return nil
			}
			continue
		}

		s.ask(ctx, input)
	}
}

func (s *chatSession) ask(ctx context.Context, input string) {
	history := make([]models.Message, len(s.history))
	copy(history, s.history)

	wc := &models.WorkflowContext{
		UserID:        s.opts.userID,
		SessionID:     s.sessionID,
		Prompt:        input,
		Mode:          s.mode,
		Provider:      s.opts.provider,
		FrameworkHint: s.opts.framework,
		History:       history,
	}
	result := runOnce(ctx, s.runner, wc, s.out, s.opts)

	now := time.Now()
	s.history = append(s.history, models.Message{Role: models.RoleUser, Content: input, Timestamp: now})
	if result.Metadata.FinalState == models.StateDone {
		s.history = append(s.history, models.Message{Role: models.RoleAssistant, Content: result.Response, Timestamp: now})
	}
}

// handleCommand runs a slash command and reports whether to quit
func (s *chatSession) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	switch parts[0] {
	case "/help":
		fmt.Fprintln(s.out, "\nCommands:")
		fmt.Fprintln(s.out, "  /mode [builder|tutor]  show or switch the mode")
		fmt.Fprintln(s.out, "  /history               show the conversation")
		fmt.Fprintln(s.out, "  /clear                 start a new session")
		fmt.Fprintln(s.out, "  /stats                 show session statistics")
		fmt.Fprintln(s.out, "  /exit                  quit")
		fmt.Fprintln(s.out)
	case "/mode":
		if len(parts) < 2 {
			fmt.Fprintf(s.out, "\nMode: %s\n\n", s.mode)
			return false
		}
		mode := models.Mode(parts[1])
		if !mode.Valid() {
			fmt.Fprintf(s.out, "\nUnknown mode %q, use builder or tutor\n\n", parts[1])
			return false
		}
		s.mode = mode
		fmt.Fprintf(s.out, "\n✓ Mode set to %s\n\n", mode)
	case "/clear", "/new":
		s.history = nil
		s.sessionID = uuid.NewString()
		fmt.Fprint(s.out, "\n✓ Conversation cleared\n\n")
	case "/history":
		if len(s.history) == 0 {
			fmt.Fprint(s.out, "\nNo history\n\n")
			return false
		}
		fmt.Fprintln(s.out, "\n=== History ===")
		for i, msg := range s.history {
			fmt.Fprintf(s.out, "%d. %s: %s\n", i+1, msg.Role, truncate(msg.Content, 60))
		}
		fmt.Fprintln(s.out)
	case "/stats":
		fmt.Fprintf(s.out, "\nSession: %s\nMessages: %d\n\n", s.sessionID, len(s.history))
	case "/exit", "/quit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	default:
		fmt.Fprintf(s.out, "\nUnknown command %s, type /help\n\n", parts[0])
	}
	return false
}

// truncate shortens s to maxLen runes including the ellipsis
func truncate(s string, maxLen int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= maxLen {
		return string(r)
	}
	if maxLen <= 3 {
		return string(r[:max(maxLen, 0)])
	}
	return string(r[:maxLen-3]) + "..."
}
