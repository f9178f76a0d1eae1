package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/agora/internal/crosspoll"
	"github.com/ent0n29/agora/internal/store"
)

func newAggregateCmd() *cobra.Command {
	var (
		databaseURL   string
		sessionID     string
		excludeThread string
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Print the anonymized sibling content for a thread",
		Long:  "Prints the anonymized perspectives from every other thread in a session, as the cross-pollination synthesis would see them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, databaseURL, sessionID, excludeThread)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "store URL (defaults to DATABASE_URL)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&excludeThread, "exclude-thread", "", "thread id to leave out")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func runAggregate(cmd *cobra.Command, databaseURL, sessionID, excludeThread string) error {
	if databaseURL == "" {
		databaseURL = envDatabaseURL()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if _, err := st.Session(ctx, sessionID); err != nil {
		return err
	}
	agg, err := crosspoll.NewAggregator(st).Aggregate(ctx, sessionID, excludeThread)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if agg.Empty() {
		fmt.Fprintln(out, "no sibling content: the first-participant message would be used")
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(agg)
}

func envDatabaseURL() string {
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}
