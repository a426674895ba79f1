package main

import (
	"fmt"

	"github.com/franz/media-catalog/internal/report"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [id]",
	Short: "Show song, artist, album and tag counts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	var id *int64
	name := "All catalogs"
	if len(args) == 1 {
		v, err := parseID(args[0])
		if err != nil {
			return err
		}
		id = &v
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	if id != nil {
		cat, err := s.store.GetCatalog(ctx, *id)
		if err != nil {
			return err
		}
		if cat == nil {
			return fmt.Errorf("catalog %d not found", *id)
		}
		name = fmt.Sprintf("%s (#%d)", cat.Name, cat.ID)
	}

	stats, err := s.engine.Stats(ctx, id)
	if err != nil {
		return err
	}
	fmt.Print(report.FormatStats(name, stats))
	return nil
}
