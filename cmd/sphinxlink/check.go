package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sphinxlink/internal/config"
	"github.com/MrWong99/sphinxlink/internal/observe"
	client "github.com/MrWong99/sphinxlink/internal/sphinx"
)

func checkCmd(g *globalOptions) *cobra.Command {
	var grammar string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect to the recognizer and optionally activate a grammar",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.setup()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("grammar") {
				grammar = cfg.Recognizer.Grammar
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg, grammar)
		},
	}
	cmd.Flags().StringVarP(&grammar, "grammar", "g", "", "grammar to activate (default: recognizer.grammar)")
	return cmd
}

// runCheck opens one session, activates grammar when set, and reports each
// step to w.
func runCheck(ctx context.Context, w io.Writer, cfg *config.Config, grammar string) error {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	engine, err := newRegistry(observe.DefaultMetrics()).CreateVAD(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	s, err := client.New(ctx, sc, client.WithEngine(engine))
	if err != nil {
		fmt.Fprintf(w, "connect %s: FAILED: %v\n", sc.Address(), err)
		return err
	}
	defer s.Close()
	fmt.Fprintf(w, "connect %s: ok (%s)\n", sc.Address(), time.Since(start).Round(time.Millisecond))

	if grammar == "" {
		return nil
	}
	start = time.Now()
	if err := s.ActivateGrammar(ctx, grammar); err != nil {
		fmt.Fprintf(w, "grammar %q: FAILED: %v\n", grammar, err)
		return err
	}
	fmt.Fprintf(w, "grammar %q: ok (%s)\n", grammar, time.Since(start).Round(time.Millisecond))
	return nil
}
