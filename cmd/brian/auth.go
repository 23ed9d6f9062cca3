package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/frontend"
	"github.com/sofatutor/brian/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var username, password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Long: `Exchange a username and password for an access token and keep it in the
credential store. Missing values are prompted for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}

			in := bufio.NewReader(cmd.InOrStdin())
			if passwordStdin {
				if !cmd.Flags().Changed("username") {
					return errors.New("--password-stdin requires --username")
				}
				if password, err = readLine(in); err != nil {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
			}
			if !cmd.Flags().Changed("username") {
				if username, err = prompt(cmd, in, "Username: "); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("password") && !passwordStdin {
				if password, err = promptPassword(cmd, in, "Password: "); err != nil {
					return err
				}
			}

			h := frontend.NewLoginHandler(frontend.ClientAPI{Client: env.client}, env.store, terminalNavigator(cmd, nil), env.logger)
			res := h.LoginUser(cmd.Context(), frontend.Values{
				frontend.FieldUsername: username,
				frontend.FieldPassword: password,
			})
			if !res.OK() {
				return errors.New(res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prefer the prompt or --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}
			guard := session.NewGuard(env.store, session.NavigatorFunc(func(session.Page) {}), env.logger)
			if err := guard.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove stored credential: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the API address, stored credential and API health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "API:        %s\n", env.cfg.APIURL)
			fmt.Fprintf(out, "Store:      %s\n", storeName(env.store))

			token, err := env.store.Get(cmd.Context())
			switch {
			case err == nil:
				fmt.Fprintf(out, "Credential: %s\n", api.ObfuscateKey(token))
			case errors.Is(err, session.ErrNoCredential):
				fmt.Fprintln(out, "Credential: none (run brian login)")
			default:
				fmt.Fprintf(out, "Credential: unreadable (%v)\n", err)
			}

			health, err := env.client.Health(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Health:     unreachable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Health:     %v (version %v)\n", health["status"], health["version"])
			return nil
		},
	}
}

func storeName(s session.Store) string {
	switch st := s.(type) {
	case *session.FileStore:
		return "file " + st.Path()
	case *session.KeyringStore:
		return "keyring"
	case *session.MemoryStore:
		return "memory"
	default:
		return fmt.Sprintf("%T", s)
	}
}

func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := readLine(in)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return line, nil
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line otherwise.
func promptPassword(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return prompt(cmd, in, label)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
