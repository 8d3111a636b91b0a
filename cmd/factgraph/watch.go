package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"factgraph/pkg/fact"
	"factgraph/pkg/observer"
	"factgraph/pkg/router"
	"factgraph/pkg/specparser"
)

func newWatchCmd() *cobra.Command {
	var specFile string
	var given []string
	var feedFile string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open a live Observer on a specification and print rows as they arrive",
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

			r := router.New()
			detach := r.Attach(s)
			defer detach()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			o, err := observer.Watch(ctx, s, r, spc, givenRefs, func(row *observer.Row) observer.DisposeFunc {
				rv, err := renderValue(ctx, row.Value)
				if err != nil {
					fmt.Fprintf(out, "render error: %v\n", err)
					return nil
				}
				b, _ := json.Marshal(rv)
				fmt.Fprintf(out, "+ %s\n", b)
				return func() {
					b, _ := json.Marshal(rv)
					fmt.Fprintf(out, "- %s\n", b)
				}
			})
			if err != nil {
				return fmt.Errorf("starting observer: %w", err)
			}
			defer o.Stop()

			if err := o.Loaded(ctx); err != nil {
				return fmt.Errorf("waiting for baseline: %w", err)
			}

			if feedFile != "" {
				data, err := os.ReadFile(feedFile)
				if err != nil {
					return fmt.Errorf("reading feed: %w", err)
				}
				facts, err := decodeFacts(data)
				if err != nil {
					return err
				}
				for _, f := range facts {
					if _, err := s.Save(ctx, []fact.Fact{f}); err != nil {
						return fmt.Errorf("feeding fact: %w", err)
					}
				}
				if err := o.Processed(ctx); err != nil {
					return fmt.Errorf("waiting for feed to settle: %w", err)
				}
				if err := o.Failed(); err != nil {
					return fmt.Errorf("observer failed: %w", err)
				}
				return nil
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&specFile, "spec", "", "path to a specification file (§6 textual form)")
	cmd.Flags().StringSliceVar(&given, "given", nil, "given fact references, type#hash, one per the specification's Given list")
	cmd.Flags().StringVar(&feedFile, "feed", "", "path to a JSON array of facts to save one at a time after the baseline, demonstrating reactivity; without it, watch runs until interrupted")
	cmd.MarkFlagRequired("spec")
	return cmd
}
