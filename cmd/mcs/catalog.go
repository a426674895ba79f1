package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Create, list, configure and delete catalogs",
}

var catalogCreateCmd = &cobra.Command{
	Use:   "create <path|url>",
	Short: "Create a catalog and run its first add",
	Long: `Create a catalog rooted at a local directory, or a remote catalog
replicating the peer at the given http(s) URL.

Unless --no-add is given the new catalog is synchronized right away.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogCreate,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogs",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a catalog, its songs and everything left orphaned",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogDelete,
}

var catalogSettingsCmd = &cobra.Command{
	Use:   "settings <id>",
	Short: "Change a catalog's name, key, patterns or enabled state",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogSettings,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogCreateCmd, catalogListCmd, catalogDeleteCmd, catalogSettingsCmd)

	catalogCreateCmd.Flags().String("name", "", "catalog name (required)")
	catalogCreateCmd.Flags().String("key", "", "shared key of the remote peer")
	catalogCreateCmd.Flags().String("rename-pattern", "", "rename pattern")
	catalogCreateCmd.Flags().String("sort-pattern", "", "sort pattern")
	catalogCreateCmd.Flags().Bool("no-add", false, "create the catalog without synchronizing it")
	catalogCreateCmd.MarkFlagRequired("name")

	catalogSettingsCmd.Flags().String("name", "", "new catalog name")
	catalogSettingsCmd.Flags().String("key", "", "new remote key")
	catalogSettingsCmd.Flags().String("rename-pattern", "", "rename pattern")
	catalogSettingsCmd.Flags().String("sort-pattern", "", "sort pattern")
	catalogSettingsCmd.Flags().Bool("enable", false, "enable the catalog")
	catalogSettingsCmd.Flags().Bool("disable", false, "disable the catalog")
	catalogSettingsCmd.MarkFlagsMutuallyExclusive("enable", "disable")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func runCatalogCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	name, _ := cmd.Flags().GetString("name")
	key, _ := cmd.Flags().GetString("key")
	rename, _ := cmd.Flags().GetString("rename-pattern")
	sortPattern, _ := cmd.Flags().GetString("sort-pattern")
	noAdd, _ := cmd.Flags().GetBool("no-add")

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	cat := &store.Catalog{
		Name:          name,
		Path:          args[0],
		Type:          store.CatalogLocal,
		RemoteKey:     key,
		RenamePattern: rename,
		SortPattern:   sortPattern,
	}
	if isURL(args[0]) {
		cat.Type = store.CatalogRemote
	}
	if err := s.engine.Create(ctx, cat); err != nil {
		return err
	}

	if noAdd {
		return nil
	}
	util.InfoLog("=== Adding to %s ===", cat.Name)
	rep, err := s.engine.Add(ctx, cat.ID)
	if perr := printReport(rep, ""); perr != nil {
		util.WarnLog("Failed to write report: %v", perr)
	}
	return err
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	catalogs, err := s.store.ListCatalogs(ctx)
	if err != nil {
		return err
	}
	if len(catalogs) == 0 {
		util.WarnLog("No catalogs. Run 'mcs catalog create' first.")
		return nil
	}

	fmt.Printf("%-4s %-20s %-7s %-8s %-14s %s\n", "ID", "NAME", "TYPE", "STATE", "LAST ADD", "PATH")
	for _, c := range catalogs {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-4d %-20s %-7s %-8s %-14s %s\n", c.ID, c.Name, c.Type, state, since(c.LastAdd), c.Path)
	}
	return nil
}

func since(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "never"
	}
	return humanize.Time(t)
}

func runCatalogDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
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

	rep, err := s.engine.Delete(ctx, id)
	if err != nil {
		return err
	}
	util.SuccessLog("Deleted catalog #%d (%d songs, %d orphaned rows)", id, rep.Deleted, rep.CleanRemoved())
	return printReport(rep, "")
}

func runCatalogSettings(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
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

	cat, err := s.store.GetCatalog(ctx, id)
	if err != nil {
		return err
	}
	if cat == nil {
		return fmt.Errorf("catalog %d not found", id)
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		cat.Name, _ = flags.GetString("name")
		if cat.Name == "" {
			return util.NewSyncError(util.ErrInvalidConfig, "", fmt.Errorf("catalog name is required"))
		}
	}
	if flags.Changed("key") {
		cat.RemoteKey, _ = flags.GetString("key")
	}
	if flags.Changed("rename-pattern") {
		cat.RenamePattern, _ = flags.GetString("rename-pattern")
	}
	if flags.Changed("sort-pattern") {
		cat.SortPattern, _ = flags.GetString("sort-pattern")
	}
	if enable, _ := flags.GetBool("enable"); enable {
		cat.Enabled = true
	}
	if disable, _ := flags.GetBool("disable"); disable {
		cat.Enabled = false
	}

	if err := s.store.UpdateCatalogSettings(ctx, cat); err != nil {
		return err
	}
	util.SuccessLog("Updated catalog %q (#%d)", cat.Name, cat.ID)
	return nil
}
