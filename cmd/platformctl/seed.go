package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"supashowcase/internal/schema"
	"supashowcase/pkg/domain"
)

// newSeedCmd writes the sample catalogue, directly to Postgres when a
// database URL is given and through the REST API otherwise.
func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert sample books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books := schema.SampleBooks()
			if opts.dsn != "" {
				db, err := schema.Open(opts.dsn, nil)
				if err != nil {
					return err
				}
				n, err := schema.SeedBooks(cmd.Context(), db, books)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d books\n", n)
				return nil
			}

			client, err := opts.platform()
			if err != nil {
				return err
			}
			rows := make([]domain.BookInsert, 0, len(books))
			for _, b := range books {
				rows = append(rows, domain.BookInsert{
					Title:         b.Title,
					Author:        b.Author,
					Genre:         b.Genre,
					PublishedYear: b.PublishedYear,
				})
			}
			if err := client.From(domain.TableBooks).Insert(rows).Exec(cmd.Context()); err != nil {
				return fmt.Errorf("seed books: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d books\n", len(rows))
			return nil
		},
	}
}
