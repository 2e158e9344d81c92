package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waxworks/discograph/pkg/config"
	"github.com/waxworks/discograph/pkg/graph/neo"
	"github.com/waxworks/discograph/pkg/intake"
)

var replayCmd = &cobra.Command{
	Use:   "replay <event-hash>",
	Short: "Re-dispatch a stored event against the graph",
	Long: `replay loads a stored anchored event by hash and dispatches it again.
Projection is idempotent, so replaying a processed event converges to
the same graph state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), args[0])
	},
}

func runReplay(ctx context.Context, eventHash string) error {
	cfg := config.Load()
	log := newLogger(cfg)

	gs, err := neo.Open(ctx, neo.Config{
		URI:      cfg.GraphURI,
		User:     cfg.GraphUser,
		Password: cfg.GraphPassword,
	})
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = gs.Close(context.Background()) }()
	if err := gs.EnsureConstraints(ctx); err != nil {
		return fmt.Errorf("ensure graph constraints: %w", err)
	}

	es, err := openEventStore(cfg)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer func() { _ = es.Close() }()

	rn, err := newRoles(cfg)
	if err != nil {
		return err
	}
	ik, err := intake.New(gs, es, rn, nil, log)
	if err != nil {
		return fmt.Errorf("build intake: %w", err)
	}

	res, err := ik.Replay(ctx, eventHash)
	if err != nil {
		return fmt.Errorf("replay %s: %w", eventHash, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
