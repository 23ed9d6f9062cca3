package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sofatutor/brian/internal/frontend"
	"github.com/sofatutor/brian/internal/session"
	"github.com/spf13/cobra"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Send one prompt to Brian and print the reply",
		Long: `Send a prompt with the stored access token and print the reply verbatim.
A failed request ends the session unless --strict-expiry is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}
			h := env.generateHandler(cmd, nil)
			form := frontend.Values{frontend.FieldPrompt: strings.Join(args, " ")}
			out := cmd.OutOrStdout()

			var res frontend.Result
			if stream {
				res = h.GenerateTextStream(cmd.Context(), form, func(chunk string) error {
					_, err := io.WriteString(out, chunk)
					return err
				})
			} else {
				res = h.GenerateText(cmd.Context(), form)
				if res.OK() {
					_, _ = io.WriteString(out, res.Output)
				}
			}
			if !res.OK() {
				return errors.New(res.Message)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&stream, "stream", "s", true, "Print the reply as it is generated")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with Brian interactively",
		Long:  `Start an interactive session. Type 'exit' or 'quit' to leave.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}

			var visited session.Page
			h := env.generateHandler(cmd, &visited)
			guard := session.NewGuard(env.store, terminalNavigator(cmd, &visited), env.logger)
			if !guard.CheckAuth(cmd.Context()) {
				return errors.New("not logged in")
			}

			historyFile := env.cfg.HistoryFile
			if historyFile != "" {
				if err := os.MkdirAll(filepath.Dir(historyFile), 0o700); err != nil {
					env.logger.Warn("chat history disabled")
					historyFile = ""
				}
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer func() { _ = rl.Close() }()

			fmt.Fprintln(rl.Stdout(), "Chatting with Brian. Type 'exit' or 'quit' to end the session.")
			return chatLoop(cmd.Context(), rl, rl.Stdout(), h, &visited)
		},
	}
}

// lineReader is the part of readline the chat loop uses.
type lineReader interface {
	Readline() (string, error)
}

// chatLoop streams a reply for every line until the user quits or the
// session ends.
func chatLoop(ctx context.Context, in lineReader, out io.Writer, h *frontend.GenerateHandler, visited *session.Page) error {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				fmt.Fprintln(out, "Ending chat session")
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out, "Ending chat session")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			fmt.Fprintln(out, "Ending chat session")
			return nil
		}
		if line == "" {
			continue
		}

		res := h.GenerateTextStream(ctx, frontend.Values{frontend.FieldPrompt: line}, func(chunk string) error {
			_, err := io.WriteString(out, chunk)
			return err
		})
		fmt.Fprintln(out)
		if res.OK() {
			continue
		}

		fmt.Fprintln(out, res.Message)
		if *visited == session.PageLogin {
			return errors.New(res.Message)
		}
	}
}

func (e *cliEnv) generateHandler(cmd *cobra.Command, visited *session.Page) *frontend.GenerateHandler {
	guard := session.NewGuard(e.store, terminalNavigator(cmd, visited), e.logger)
	h := frontend.NewGenerateHandler(frontend.ClientAPI{Client: e.client}, guard, e.logger)
	h.ExpireOnlyOnUnauthorized = e.cfg.StrictExpiry
	return h
}
