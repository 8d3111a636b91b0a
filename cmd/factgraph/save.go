package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a batch of facts from a JSON file (or stdin with --file -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if file == "" || file == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("reading facts: %w", err)
			}

			facts, err := decodeFacts(data)
			if err != nil {
				return err
			}

			s, closeStore, err := openStore(dbPath, dbBackend)
			if err != nil {
				return err
			}
			defer closeStore()

			added, err := s.Save(context.Background(), facts)
			if err != nil {
				return fmt.Errorf("saving facts: %w", err)
			}
			if len(added) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no new facts (all duplicates)")
				return nil
			}
			for _, ref := range added {
				fmt.Fprintln(cmd.OutOrStdout(), ref.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "path to a JSON array of facts, or - for stdin")
	return cmd
}
