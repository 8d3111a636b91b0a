package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"factgraph/pkg/inverse"
	"factgraph/pkg/specparser"
)

func newInspectCmd() *cobra.Command {
	var specFile string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Compile a specification's inverses and list the fact types that trigger it",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("reading specification: %w", err)
			}
			spc, err := specparser.Parse(string(src))
			if err != nil {
				return fmt.Errorf("parsing specification: %w", err)
			}

			reg := inverse.NewRegistry()
			reg.Register(inverse.InversesOf(spc))

			out := cmd.OutOrStdout()
			for _, t := range reg.PivotTypes() {
				fmt.Fprintln(out, t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&specFile, "spec", "", "path to a specification file (§6 textual form)")
	cmd.MarkFlagRequired("spec")
	return cmd
}
