package main

import (
	"fmt"
	"strconv"

	"github.com/franz/media-catalog/internal/catalog"
	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var syncCmd = &cobra.Command{
	Use:   "sync [id...]",
	Short: "Add new songs to catalogs",
	Long: `Run the add action on one or more catalogs.

Local catalogs are crawled for audio files that are not cataloged yet and
their playlists are imported. Remote catalogs are replicated from their
peer: new songs are inserted, songs already replicated are skipped and
songs the peer no longer offers are deleted.

With --all every enabled catalog is synchronized, up to --concurrency at
a time.`,
	RunE: runSync,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Re-read tags of cataloged songs and disable missing files",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var cleanCmd = &cobra.Command{
	Use:   "clean <id>",
	Short: "Disable missing songs and remove orphaned rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

var updateCmd = &cobra.Command{
	Use:   "update <song|album|artist> <id>",
	Short: "Re-read tags of a single song, album or artist",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdate,
}

func init() {
	rootCmd.AddCommand(syncCmd, verifyCmd, cleanCmd, updateCmd)

	syncCmd.Flags().Bool("all", false, "synchronize every enabled catalog")
	syncCmd.Flags().IntP("concurrency", "j", 2, "catalogs synchronized in parallel")
	viper.BindPFlag("concurrency", syncCmd.Flags().Lookup("concurrency"))
}

func runSync(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("catalog id required (or use --all)")
	}
	var ids []int64
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	ctx, cancel := commandContext()
	defer cancel()

	concurrency := GetConfigInt("concurrency", 2)
	s, err := openSession(all || len(ids) > 1)
	if err != nil {
		return err
	}
	defer s.Close()

	if all {
		catalogs, err := s.store.ListCatalogs(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, c := range catalogs {
			if c.Enabled {
				ids = append(ids, c.ID)
			}
		}
		if len(ids) == 0 {
			util.WarnLog("No enabled catalogs")
			return nil
		}
	}

	if len(ids) == 1 {
		util.InfoLog("=== Sync ===")
		rep, err := s.engine.Add(ctx, ids[0])
		if perr := printReport(rep, ""); perr != nil {
			util.WarnLog("Failed to write report: %v", perr)
		}
		return err
	}

	util.InfoLog("=== Sync: %d catalogs, %d at a time ===", len(ids), concurrency)
	reports, err := s.engine.SyncAll(ctx, ids, concurrency)
	for i, rep := range reports {
		if rep == nil {
			continue
		}
		if perr := printReport(rep, strconv.FormatInt(ids[i], 10)); perr != nil {
			util.WarnLog("Failed to write report: %v", perr)
		}
	}
	return err
}

func runCatalogAction(args []string, action func(*catalog.Engine, int64) (*report.RunReport, error)) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := action(s.engine, id)
	if perr := printReport(rep, ""); perr != nil {
		util.WarnLog("Failed to write report: %v", perr)
	}
	return err
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	util.InfoLog("=== Verify ===")
	return runCatalogAction(args, func(e *catalog.Engine, id int64) (*report.RunReport, error) {
		return e.Verify(ctx, id)
	})
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	util.InfoLog("=== Clean ===")
	return runCatalogAction(args, func(e *catalog.Engine, id int64) (*report.RunReport, error) {
		return e.Clean(ctx, id)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	kind := args[0]
	switch kind {
	case catalog.ItemSong, catalog.ItemAlbum, catalog.ItemArtist:
	default:
		return fmt.Errorf("unknown item kind %q (want song, album or artist)", kind)
	}
	id, err := parseID(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.engine.UpdateSingleItem(ctx, kind, id)
	if err != nil {
		return err
	}

	changed := 0
	for _, r := range results {
		switch {
		case r.Flagged:
			util.InfoLog("  %s: flagged, left alone", r.Path)
		case r.Changed:
			changed++
			util.InfoLog("  %s: %s", r.Path, r.Diff)
		default:
			util.DebugLog("  %s: unchanged", r.Path)
		}
	}
	util.SuccessLog("Updated %d of %d songs", changed, len(results))
	return nil
}
