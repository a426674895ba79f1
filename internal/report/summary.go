package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
)

// Summary is the final progress report of a run
type Summary struct {
	TotalProcessed int
	Elapsed        time.Duration
	Rate           float64 // items per second
}

// NewSummary computes the rate for total items over elapsed
func NewSummary(total int, elapsed time.Duration) Summary {
	s := Summary{TotalProcessed: total, Elapsed: elapsed}
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(total) / secs
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%s items in %s (%.1f/s)",
		humanize.Comma(int64(s.TotalProcessed)), s.Elapsed.Round(time.Millisecond), s.Rate)
}

// StepCount is the number of rows one cleanup step removed
type StepCount struct {
	Step    string
	Removed int64
}

// RunReport collects the outcome of one synchronization run
type RunReport struct {
	RunID       string
	CatalogID   int64
	CatalogName string
	Mode        string // add, verify, clean, remote

	Inserted          int
	Updated           int
	Disabled          int
	Deleted           int
	Skipped           int
	PlaylistsQueued   int
	PlaylistsImported int
	Clean             []StepCount
	Errors            []error
	Summary           Summary
	Canceled          bool
}

// AddError records a report entry
func (r *RunReport) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// CleanRemoved returns the total rows removed by the cleanup sweep
func (r *RunReport) CleanRemoved() int64 {
	var n int64
	for _, s := range r.Clean {
		n += s.Removed
	}
	return n
}

// ErrorSummary represents an error kind with its count
type ErrorSummary struct {
	Kind  string
	Count int
}

// ErrorCounts groups errors by kind, most frequent first
func (r *RunReport) ErrorCounts() []ErrorSummary {
	counts := make(map[string]int)
	for _, err := range r.Errors {
		kind := "other"
		if k := util.KindOf(err); k != nil {
			kind = k.Error()
		}
		counts[kind]++
	}

	out := make([]ErrorSummary, 0, len(counts))
	for kind, n := range counts {
		out = append(out, ErrorSummary{Kind: kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// HasKind reports whether any recorded error is of kind
func (r *RunReport) HasKind(kind error) bool {
	for _, err := range r.Errors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// FormatStats renders catalog statistics for the console
func FormatStats(name string, s *store.SongStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", name)
	fmt.Fprintf(&b, "  Songs:    %s (%s enabled, %s disabled)\n",
		humanize.Comma(int64(s.Songs)), humanize.Comma(int64(s.Enabled)), humanize.Comma(int64(s.Disabled)))
	fmt.Fprintf(&b, "  Artists:  %s\n", humanize.Comma(int64(s.Artists)))
	fmt.Fprintf(&b, "  Albums:   %s\n", humanize.Comma(int64(s.Albums)))
	fmt.Fprintf(&b, "  Tags:     %s\n", humanize.Comma(int64(s.Tags)))
	fmt.Fprintf(&b, "  Size:     %s\n", humanize.Bytes(uint64(max(s.Size, 0))))
	fmt.Fprintf(&b, "  Duration: %s\n", formatDuration(time.Duration(s.Duration)*time.Second))
	return b.String()
}

func formatDuration(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// WriteMarkdownReport writes the run report as Markdown
func WriteMarkdownReport(r *RunReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Catalog Sync Report\n\n")
	fmt.Fprintf(&md, "**Catalog:** %s (#%d)\n\n", r.CatalogName, r.CatalogID)
	fmt.Fprintf(&md, "**Run:** `%s` (%s)\n\n", r.RunID, r.Mode)
	if r.Canceled {
		md.WriteString("**Canceled** - the catalog is partially synchronized.\n\n")
	}
	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	fmt.Fprintf(&md, "| Processed | %s |\n", humanize.Comma(int64(r.Summary.TotalProcessed)))
	fmt.Fprintf(&md, "| Inserted | %d |\n", r.Inserted)
	fmt.Fprintf(&md, "| Updated | %d |\n", r.Updated)
	fmt.Fprintf(&md, "| Disabled | %d |\n", r.Disabled)
	fmt.Fprintf(&md, "| Deleted | %d |\n", r.Deleted)
	fmt.Fprintf(&md, "| Skipped | %d |\n", r.Skipped)
	if r.PlaylistsQueued > 0 {
		fmt.Fprintf(&md, "| Playlists | %d of %d imported |\n", r.PlaylistsImported, r.PlaylistsQueued)
	}
	fmt.Fprintf(&md, "| Elapsed | %s |\n", r.Summary.Elapsed.Round(time.Second))
	md.WriteString("\n")

	if len(r.Clean) > 0 {
		md.WriteString("## Cleanup\n\n")
		md.WriteString("| Step | Rows Removed |\n")
		md.WriteString("|------|--------------|\n")
		for _, s := range r.Clean {
			fmt.Fprintf(&md, "| %s | %d |\n", s.Step, s.Removed)
		}
		md.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		md.WriteString("## Errors\n\n")
		md.WriteString("| Count | Kind |\n")
		md.WriteString("|-------|------|\n")
		for _, e := range r.ErrorCounts() {
			fmt.Fprintf(&md, "| %d | %s |\n", e.Count, e.Kind)
		}
		md.WriteString("\n")

		limit := min(len(r.Errors), 20)
		for _, err := range r.Errors[:limit] {
			fmt.Fprintf(&md, "- `%s`\n", truncatePath(err.Error(), 120))
		}
		if len(r.Errors) > limit {
			fmt.Fprintf(&md, "- ... and %d more\n", len(r.Errors)-limit)
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
