package main

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/setup"
	"github.com/spf13/cobra"
)

func newSetupCmd(opts *rootOptions) *cobra.Command {
	var (
		openAIKey     string
		dbPath        string
		listenAddr    string
		rotateSecrets bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file for the API server and web pages",
		Long: `Write the OpenAI key, database path, listen address and freshly generated
JWT and session secrets to the --env file. Existing secrets and unrelated
variables are kept unless --rotate-secrets is set.`,
		Args: cobra.NoArgs,
		// The env file is the output here, so it must not be required to exist.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return errors.New("--env must name the file to write")
			}
			existing, err := setup.ReadExisting(opts.envFile)
			if err != nil {
				return err
			}

			if openAIKey == "" {
				openAIKey = existing["OPENAI_API_KEY"]
			}
			if openAIKey == "" {
				in := bufio.NewReader(cmd.InOrStdin())
				if openAIKey, err = promptPassword(cmd, in, "OpenAI API key: "); err != nil {
					return err
				}
			}

			sc := &setup.SetupConfig{
				EnvPath:       opts.envFile,
				OpenAIAPIKey:  openAIKey,
				DatabasePath:  firstNonEmpty(dbPath, existing["DATABASE_PATH"], "./data/brian.db"),
				ListenAddr:    firstNonEmpty(listenAddr, existing["LISTEN_ADDR"], ":8000"),
				RotateSecrets: rotateSecrets,
			}
			if err := setup.RunNonInteractiveSetup(sc); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", sc.EnvPath)
			fmt.Fprintf(out, "OpenAI API key: %s\n", api.ObfuscateKey(sc.OpenAIAPIKey))
			fmt.Fprintf(out, "Database:       %s\n", sc.DatabasePath)
			fmt.Fprintf(out, "Listen address: %s\n", sc.ListenAddr)
			return nil
		},
	}
	cmd.Flags().StringVar(&openAIKey, "openai-api-key", "", "OpenAI API key (prompted when missing)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default ./data/brian.db)")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "API listen address (default :8000)")
	cmd.Flags().BoolVar(&rotateSecrets, "rotate-secrets", false, "Replace JWT and session secrets already in the file")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
