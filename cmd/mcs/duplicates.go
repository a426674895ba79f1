package main

import (
	"fmt"

	"github.com/franz/media-catalog/internal/cluster"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Report songs that look like duplicates",
	Long: `Group songs sharing a title (and optionally artist and album) and
list up to two removal candidates per group: the shortest, then the
lowest bitrate, then the smallest file.

Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().String("key", string(cluster.KeyTitle), "grouping key: title, artist_title or artist_album_title")
	duplicatesCmd.Flags().Bool("include-disabled", false, "consider disabled songs too")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	keyFlag, _ := cmd.Flags().GetString("key")
	key, err := cluster.ParseKey(keyFlag)
	if err != nil {
		return err
	}
	includeDisabled, _ := cmd.Flags().GetBool("include-disabled")

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	detector := cluster.New(&cluster.Config{
		Store:           s.store,
		Logger:          s.logger,
		IncludeDisabled: includeDisabled,
	})

	groups, err := detector.Find(ctx, key)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		util.SuccessLog("No duplicates by %s", key)
		return nil
	}

	util.InfoLog("=== Duplicates by %s ===", key)
	for _, g := range groups {
		ids, err := detector.Candidates(ctx, g)
		if err != nil {
			return err
		}
		fmt.Printf("%-50s %3d songs  candidates: %v\n", g.Label(), g.Count, ids)
	}
	util.InfoLog("%d duplicate groups", len(groups))
	return nil
}
