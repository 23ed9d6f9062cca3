package main

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/client"
	"github.com/spf13/cobra"
)

func newCreateUserCmd(opts *rootOptions) *cobra.Command {
	var req api.CreateUserRequest

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Register a new account",
		Long:  `Create an account on the API. Missing values are prompted for.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env(cmd)
			if err != nil {
				return err
			}

			in := bufio.NewReader(cmd.InOrStdin())
			fields := []struct {
				flag  string
				label string
				dst   *string
			}{
				{"name", "Name: ", &req.Name},
				{"username", "Username: ", &req.Username},
				{"email", "Email: ", &req.Email},
			}
			for _, f := range fields {
				if cmd.Flags().Changed(f.flag) {
					continue
				}
				if *f.dst, err = prompt(cmd, in, f.label); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("password") {
				if req.Password, err = promptPassword(cmd, in, "Password: "); err != nil {
					return err
				}
			}

			resp, err := env.client.CreateUser(cmd.Context(), req)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) {
					return errors.New(apiErr.Detail)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Password (prefer the prompt)")
	return cmd
}
