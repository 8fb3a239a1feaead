package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newInvokeCmd(opts *rootOptions) *cobra.Command {
	var (
		data     string
		email    string
		password string
	)
	cmd := &cobra.Command{
		Use:   "invoke <function>",
		Short: "Call an edge function and print its reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.platform()
			if err != nil {
				return err
			}
			if email != "" {
				session, err := client.SignInWithPassword(cmd.Context(), email, password)
				if err != nil {
					return fmt.Errorf("sign in: %w", err)
				}
				client = client.WithAccessToken(session.AccessToken)
			}
			var body any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return errors.New("--data must be valid JSON")
				}
			}
			var out json.RawMessage
			if err := client.Invoke(cmd.Context(), args[0], body, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringVar(&email, "email", "", "Sign in as this user first")
	cmd.Flags().StringVar(&password, "password", "", "Password for --email")
	return cmd
}
