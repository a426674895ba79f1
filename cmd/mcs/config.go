package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/franz/media-catalog/internal/catalog"
	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/scan"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/viper"
)

var envReplacer = strings.NewReplacer(".", "_")

func setDefaults() {
	viper.SetDefault("catalog.file_pattern", trimDots(scan.AudioExtensions))
	viper.SetDefault("catalog.playlist_pattern", []string{"m3u"})
	viper.SetDefault("catalog.parse_playlists", true)
	viper.SetDefault("catalog.charset", "UTF-8")
	viper.SetDefault("catalog.prefix_tokens", meta.DefaultPrefixTokens)
	viper.SetDefault("catalog.progress_every", 10)
	viper.SetDefault("remote.page_size", 500)
	viper.SetDefault("remote.handshake_timeout", 30*time.Second)
	viper.SetDefault("remote.page_timeout", 60*time.Second)
	viper.SetDefault("server.listen", ":8700")
	viper.SetDefault("server.session_ttl", time.Hour)
	viper.SetDefault("concurrency", 2)
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
}

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (MCS_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}

// GetConfigStringSlice retrieves a string slice config value
func GetConfigStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

// GetConfigDuration retrieves a duration config value
func GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	val := viper.GetDuration(key)
	if val <= 0 {
		return defaultValue
	}
	return val
}

func trimDots(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = strings.TrimPrefix(e, ".")
	}
	return out
}

// extensions turns a configured pattern list ("mp3", ".FLAC") into
// lowercase dotted extensions
func extensions(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		out = append(out, p)
	}
	return out
}

// catalogOptions is the typed view of the catalog and remote settings
func catalogOptions() catalog.Options {
	return catalog.Options{
		Extensions:         extensions(GetConfigStringSlice("catalog.file_pattern")),
		PlaylistExtensions: extensions(GetConfigStringSlice("catalog.playlist_pattern")),
		ParsePlaylists:     GetConfigBool("catalog.parse_playlists"),
		NoSymlinks:         GetConfigBool("catalog.no_symlinks"),
		Charset:            GetConfigString("catalog.charset", "UTF-8"),
		PrefixTokens:       GetConfigStringSlice("catalog.prefix_tokens"),
		ProgressEvery:      GetConfigInt("catalog.progress_every", 10),
		PageSize:           GetConfigInt("remote.page_size", 500),
		BaseURL:            GetConfigString("remote.web_path", ""),
		HandshakeTimeout:   GetConfigDuration("remote.handshake_timeout", 30*time.Second),
		PageTimeout:        GetConfigDuration("remote.page_timeout", 60*time.Second),
	}
}

func setupLogging() {
	util.SetVerbose(GetConfigBool("verbose"))
	util.SetQuiet(GetConfigBool("quiet"))
}

func eventLevel() report.EventLevel {
	switch {
	case GetConfigBool("quiet"):
		return report.LevelWarning
	case GetConfigBool("verbose"):
		return report.LevelDebug
	default:
		return report.LevelInfo
	}
}

// commandContext is canceled on SIGINT or SIGTERM; runs stop at the next
// item and keep what they committed
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// session bundles what every catalog command opens
type session struct {
	store  *store.Store
	logger *report.EventLogger
	engine *catalog.Engine
}

// openSession opens the database and event log and builds the engine.
// concurrent selects plain log progress, since bars cannot interleave.
func openSession(concurrent bool) (*session, error) {
	setupLogging()

	dbPath := GetConfigString("db", "mcs.db")
	util.DebugLog("Opening database: %s", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger, err := report.NewEventLogger(GetConfigString("events_dir", "artifacts"), eventLevel(), &report.Options{
		MaxSizeMB:  GetConfigInt("log.max_size_mb", 100),
		MaxBackups: GetConfigInt("log.max_backups", 0),
	})
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		logger = report.NullLogger()
	} else {
		util.DebugLog("Event log: %s", logger.Path())
	}

	var progress report.Progress = report.LogProgress{}
	if !concurrent && !GetConfigBool("quiet") && util.IsTerminal(os.Stderr.Fd()) {
		progress = &phaseBars{}
	}

	engine, err := catalog.New(&catalog.Config{
		Store:    st,
		Logger:   logger,
		Progress: progress,
		Options:  catalogOptions(),
	})
	if err != nil {
		logger.Close()
		st.Close()
		return nil, err
	}
	return &session{store: st, logger: logger, engine: engine}, nil
}

func (s *session) Close() {
	s.logger.Close()
	s.store.Close()
}

// phaseBars draws one progress bar per phase of a run (crawl, verify,
// clean), each fed through its own async forwarder
type phaseBars struct {
	mu  sync.Mutex
	cur *report.Async
}

func (p *phaseBars) Tick(t report.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		p.cur = report.NewAsync(report.NewBarProgress(os.Stderr, t.Label), 0)
	}
	p.cur.Tick(t)
}

func (p *phaseBars) Finish(s report.Summary) {
	p.mu.Lock()
	cur := p.cur
	p.cur = nil
	p.mu.Unlock()
	if cur != nil {
		cur.Finish(s)
	}
	util.DebugLog("%s", s.String())
}

// printReport logs the outcome of a run and, with --report, writes it as
// Markdown. suffix distinguishes the files of a multi-catalog run.
func printReport(rep *report.RunReport, suffix string) error {
	if rep == nil {
		return nil
	}
	for _, e := range rep.ErrorCounts() {
		util.WarnLog("  %s: %d", e.Kind, e.Count)
	}
	if rep.Canceled {
		util.WarnLog("Run %s was canceled; catalog %q is partially synchronized", rep.RunID, rep.CatalogName)
	}

	out, _ := rootCmd.PersistentFlags().GetString("report")
	if out == "" {
		return nil
	}
	if suffix != "" {
		ext := filepath.Ext(out)
		out = strings.TrimSuffix(out, ext) + "-" + suffix + ext
	}
	if err := report.WriteMarkdownReport(rep, out); err != nil {
		return err
	}
	util.InfoLog("Report saved to: %s", out)
	return nil
}
