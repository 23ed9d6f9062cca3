// Command brian runs the brian API server and web pages, and talks to the API
// from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/config"
	"github.com/sofatutor/brian/internal/logging"
	"github.com/sofatutor/brian/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// For testing
var osExit = os.Exit

// rootOptions are the flags shared by every command.
type rootOptions struct {
	envFile        string
	apiURL         string
	store          string
	credentialFile string
	timeout        time.Duration
	strictExpiry   bool
	logLevel       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "brian",
		Short:         "Brian, a friendly assistant behind a login",
		Long:          `Run the brian API server or web pages, or log in and chat with Brian from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env", ".env", "Path to .env file")
	pf.StringVar(&opts.apiURL, "api-url", "", "API base URL (overrides BRIAN_API_URL)")
	pf.StringVar(&opts.store, "store", "", "Credential store: auto, keyring, file or memory (overrides BRIAN_CREDENTIAL_STORE)")
	pf.StringVar(&opts.credentialFile, "credential-file", "", "Credential file for the file store (overrides BRIAN_CREDENTIAL_FILE)")
	pf.DurationVar(&opts.timeout, "timeout", 0, "Request timeout, 0 for none (overrides BRIAN_REQUEST_TIMEOUT)")
	pf.BoolVar(&opts.strictExpiry, "strict-expiry", false, "Only end the session when the API rejects the credential")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(
		newServerCmd(opts),
		newWebCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newGenerateCmd(opts),
		newChatCmd(opts),
		newCreateUserCmd(opts),
		newStatusCmd(opts),
		newSetupCmd(opts),
	)
	return root
}

// loadEnv reads the .env file when present. Variables already set win.
func loadEnv(cmd *cobra.Command, opts *rootOptions) error {
	if opts.envFile == "" {
		return nil
	}
	if _, err := os.Stat(opts.envFile); err != nil {
		if cmd.Flags().Changed("env") {
			return fmt.Errorf("env file %s: %w", opts.envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(opts.envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}
	return nil
}

// clientConfig applies flag overrides to the environment configuration.
func (o *rootOptions) clientConfig(cmd *cobra.Command) *config.ClientConfig {
	cfg := config.NewClientConfig()
	flags := cmd.Flags()
	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.store != "" {
		cfg.CredentialStore = o.store
	}
	if o.credentialFile != "" {
		cfg.CredentialFile = o.credentialFile
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = o.timeout
	}
	if flags.Changed("strict-expiry") {
		cfg.StrictExpiry = o.strictExpiry
	}
	return cfg
}

// cliLogger writes console logs to stderr so they never mix with output.
func (o *rootOptions) cliLogger(cmd *cobra.Command) *zap.Logger {
	level := config.EnvOrDefault("BRIAN_LOG_LEVEL", "warn")
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger, err := logging.New(logging.Options{Level: level, Format: "console", Writer: cmd.ErrOrStderr()})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// cliEnv is what the terminal commands share.
type cliEnv struct {
	cfg    *config.ClientConfig
	store  session.Store
	client *client.Client
	logger *zap.Logger
}

func (o *rootOptions) env(cmd *cobra.Command) (*cliEnv, error) {
	cfg := o.clientConfig(cmd)
	logger := o.cliLogger(cmd)

	store, err := session.Open(cfg.CredentialStore, cfg.CredentialFile)
	if err != nil {
		return nil, err
	}
	c := client.New(cfg.APIURL, client.WithTimeout(cfg.RequestTimeout), client.WithLogger(logger))
	return &cliEnv{cfg: cfg, store: store, client: c, logger: logger}, nil
}

// terminalNavigator tells the user where to go next instead of loading a page.
func terminalNavigator(cmd *cobra.Command, visited *session.Page) session.Navigator {
	return session.NavigatorFunc(func(page session.Page) {
		if visited != nil {
			*visited = page
		}
		switch page {
		case session.PageLogin:
			fmt.Fprintln(cmd.ErrOrStderr(), "Please log in with: brian login")
		case session.PageChat:
			fmt.Fprintln(cmd.ErrOrStderr(), "Logged in. Start chatting with: brian chat")
		}
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}
