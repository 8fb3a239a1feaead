package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"supashowcase/pkg/supabase"
)

type rootOptions struct {
	url      string
	anonKey  string
	token    string
	dsn      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "platformctl",
		Short:         "Showcase project tooling",
		Long:          "Migrates and seeds the showcase tables and invokes edge functions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", os.Getenv("SUPABASE_URL"), "Project URL")
	flags.StringVar(&opts.anonKey, "anon-key", os.Getenv("SUPABASE_ANON_KEY"), "Project anon key")
	flags.StringVar(&opts.token, "token", os.Getenv("SUPABASE_ACCESS_TOKEN"), "User access token")
	flags.StringVar(&opts.dsn, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level")

	root.AddCommand(newMigrateCmd(opts), newSeedCmd(opts), newInvokeCmd(opts))
	return root
}

func (o *rootOptions) platform() (*supabase.Client, error) {
	if o.url == "" || o.anonKey == "" {
		return nil, errors.New("--url and --anon-key are required (or SUPABASE_URL and SUPABASE_ANON_KEY)")
	}
	client, err := supabase.New(supabase.Config{URL: o.url, AnonKey: o.anonKey})
	if err != nil {
		return nil, err
	}
	if o.token != "" {
		client = client.WithAccessToken(o.token)
	}
	return client, nil
}
