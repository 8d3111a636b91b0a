package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"factgraph/pkg/eval"
	"factgraph/pkg/fact"
	"factgraph/pkg/specparser"
)

func newQueryCmd() *cobra.Command {
	var specFile string
	var given []string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Evaluate a specification once against the current store and print the rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("reading specification: %w", err)
			}
			spc, err := specparser.Parse(string(src))
			if err != nil {
				return fmt.Errorf("parsing specification: %w", err)
			}

			givenRefs := make([]fact.Reference, len(given))
			for i, g := range given {
				ref, err := parseRef(g)
				if err != nil {
					return err
				}
				givenRefs[i] = ref
			}

			s, closeStore, err := openStore(dbPath, dbBackend)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := context.Background()
			rows, err := eval.New(s).Read(ctx, givenRefs, spc)
			if err != nil {
				return fmt.Errorf("evaluating specification: %w", err)
			}

			out := make([]any, len(rows))
			for i, row := range rows {
				val, err := renderValue(ctx, row.Value)
				if err != nil {
					return fmt.Errorf("rendering row %d: %w", i, err)
				}
				out[i] = val
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&specFile, "spec", "", "path to a specification file (§6 textual form)")
	cmd.Flags().StringSliceVar(&given, "given", nil, "given fact references, type#hash, one per the specification's Given list")
	cmd.MarkFlagRequired("spec")
	return cmd
}
