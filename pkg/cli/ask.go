package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/formatter"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/services"
)

type askOptions struct {
	session string
	showSQL bool
	verbose bool
}

func newAskCommand(opts *options) *cobra.Command {
	ao := &askOptions{}
	cmd := &cobra.Command{
		Use:   `ask ["question"]`,
		Short: "Answer one question, or start an interactive session without one",
		Example: `  fleetql ask "show open complaints"
  fleetql ask --session s1 "what is the liability of these complaints"
  fleetql ask`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if ao.verbose {
				level = ""
			}
			cfg, logger, err := opts.loadWithLogger(level)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			app, err := Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				_, err := askOnce(cmd.Context(), app.Chat, out, ao, args[0])
				return err
			}
			return repl(cmd.Context(), app.Chat, cmd.InOrStdin(), out, ao)
		},
	}

	cmd.Flags().StringVar(&ao.session, "session", "", "session id to continue (persisted sessions survive restarts)")
	cmd.Flags().BoolVar(&ao.showSQL, "sql", false, "print the SQL that answered the question")
	cmd.Flags().BoolVarP(&ao.verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
	return cmd
}

// askOnce sends one question and prints the answer. It returns the session
// id the service used.
func askOnce(ctx context.Context, chat services.ChatService, out io.Writer, ao *askOptions, question string) (string, error) {
	resp, err := chat.Ask(ctx, services.ChatRequest{SessionID: ao.session, Text: question})
	if err != nil {
		return ao.session, err
	}
	renderAnswer(out, resp, ao.showSQL)
	if resp.Error != "" {
		return resp.SessionID, errors.New(resp.Error)
	}
	return resp.SessionID, nil
}

// repl reads questions line by line in one session until EOF, "exit" or
// "quit". "clear" drops the session's context.
func repl(ctx context.Context, chat services.ChatService, in io.Reader, out io.Writer, ao *askOptions) error {
	prompt := color.New(color.FgCyan, color.Bold)
	scanner := bufio.NewScanner(in)

	for {
		prompt.Fprint(out, "fleet> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			resp, err := chat.Ask(ctx, services.ChatRequest{SessionID: ao.session, ClearContext: true})
			if err != nil {
				return err
			}
			ao.session = resp.SessionID
			color.New(color.Faint).Fprintln(out, resp.Response)
			continue
		}

		id, err := askOnce(ctx, chat, out, ao, line)
		if err != nil && ctx.Err() != nil {
			return err
		}
		ao.session = id
	}
}

// renderAnswer prints the reply text, then the rows as a Markdown table
// when the text does not already carry one.
func renderAnswer(out io.Writer, resp *services.ChatResponse, showSQL bool) {
	if resp.Error != "" {
		color.New(color.FgRed).Fprintln(out, resp.Response)
		return
	}

	fmt.Fprintln(out, resp.Response)
	if len(resp.Rows) > 0 && !strings.Contains(resp.Response, "|") {
		fmt.Fprintln(out)
		fmt.Fprintln(out, formatter.Markdown(&formatter.Table{Columns: resp.Columns, Rows: resp.Rows}))
	}
	if showSQL && resp.SQL != "" {
		color.New(color.Faint).Fprintln(out, resp.SQL)
	}
	for _, f := range resp.FollowUp {
		color.New(color.FgYellow).Fprintf(out, "  → %s\n", f)
	}
}
