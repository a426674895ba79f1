package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure mcs can operate correctly.

This command checks:
- SQLite version compatibility
- Database accessibility and integrity
- The configured filename charset
- That every enabled local catalog root is mounted and readable
- Disk space next to the database

Use this command to troubleshoot issues before running a sync.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	setupLogging()
	util.InfoLog("=== MCS Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	results = append(results, checkSQLite())

	dbPath := GetConfigString("db", "")
	results = append(results, checkDatabase(dbPath))
	results = append(results, checkCharset(GetConfigString("catalog.charset", "UTF-8")))
	results = append(results, checkCatalogRoots(dbPath)...)

	if dbPath != "" {
		dir := filepath.Dir(dbPath)
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		results = append(results, checkDiskSpace(dir, "database"))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running mcs.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! System is ready for mcs operations.")
	}

	return nil
}

// checkSQLite verifies the embedded SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies database file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	version, _ := db.SchemaVersion()
	songs := 0
	if stats, err := db.CountSongs(context.Background(), nil); err == nil {
		songs = stats.Songs
	}

	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s (%s, schema v%d, %s songs)",
			dbPath, humanize.Bytes(uint64(info.Size())), version, humanize.Comma(int64(songs))),
	}
}

// checkCharset verifies the configured filename charset is known
func checkCharset(label string) checkResult {
	if _, err := meta.NewCharsetValidator(label); err != nil {
		return checkResult{
			name:    "Charset",
			error:   true,
			message: err.Error(),
		}
	}
	return checkResult{
		name:    "Charset",
		message: label,
	}
}

// checkCatalogRoots checks the root of every enabled local catalog
func checkCatalogRoots(dbPath string) []checkResult {
	if dbPath == "" {
		return nil
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil
	}
	defer db.Close()

	catalogs, err := db.ListCatalogs(context.Background())
	if err != nil {
		return []checkResult{{
			name:    "Catalogs",
			error:   true,
			message: fmt.Sprintf("cannot list catalogs: %v", err),
		}}
	}

	var results []checkResult
	for _, c := range catalogs {
		if !c.Enabled || c.IsRemote() {
			continue
		}
		results = append(results, checkCatalogRoot(c.Name, c.Path))
	}
	return results
}

// checkCatalogRoot verifies a catalog root is a readable directory
func checkCatalogRoot(name, path string) checkResult {
	label := fmt.Sprintf("Catalog %q", name)
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    label,
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    label,
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    label,
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}
	if len(entries) == 0 {
		return checkResult{
			name:    label,
			warning: true,
			message: fmt.Sprintf("%s is empty (not mounted?)", path),
		}
	}

	return checkResult{
		name:    label,
		message: fmt.Sprintf("%s (%d entries)", path, len(entries)),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	// The database grows with the catalog; warn below 1GB or >95% used
	warning := false
	warningMsg := ""
	if availBytes < 1<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 95 {
		warning = true
		warningMsg = " (>95% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), warningMsg),
	}
}
