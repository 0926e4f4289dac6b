package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/store"
)

var (
	snapshotKind  string
	snapshotLimit int
	pruneOlder    time.Duration
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored reports, checkpoints and emergency snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			snaps, err := db.ListSnapshots(snapshotKind, snapshotLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSIZE\tCREATED")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Kind, s.Size, s.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		})
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a snapshot's JSON payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			snap, err := db.GetSnapshot(args[0])
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("snapshot %s not found", args[0])
			}
			_, err = fmt.Println(string(snap.Payload))
			return err
		})
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			n, err := db.PruneSnapshots(store.KindCheckpoint, time.Now().Add(-pruneOlder))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d checkpoints\n", n)
			return nil
		})
	},
}

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotKind, "kind", "", "only list this kind (report, checkpoint, emergency)")
	snapshotsCmd.Flags().IntVar(&snapshotLimit, "limit", 20, "maximum number of snapshots to list")
	snapshotPruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 24*time.Hour, "age of checkpoints to delete")
	snapshotsCmd.AddCommand(snapshotShowCmd, snapshotPruneCmd)
}

func withStore(fn func(*store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	return fn(db)
}
