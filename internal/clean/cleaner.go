// Package clean removes catalog rows whose backing file or parent entity
// is gone.
package clean

import (
	"context"
	"errors"
	"fmt"

	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Config holds cleaner configuration
type Config struct {
	Store         *store.Store
	Fs            afero.Fs
	Logger        *report.EventLogger
	Progress      report.Progress
	ProgressEvery int
	Clock         clockwork.Clock
}

// Cleaner runs the file-existence sweep and the referential sweep
type Cleaner struct {
	store    *store.Store
	fs       afero.Fs
	logger   *report.EventLogger
	progress report.Progress
	every    int
	clock    clockwork.Clock
}

// New creates a new Cleaner
func New(cfg *Config) *Cleaner {
	c := &Cleaner{
		store:    cfg.Store,
		fs:       cfg.Fs,
		logger:   cfg.Logger,
		progress: cfg.Progress,
		every:    cfg.ProgressEvery,
		clock:    cfg.Clock,
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Clean runs every referential cleanup step in order, each in its own
// transaction, and returns the rows each step removed. Orphans are global,
// so catalogID only labels the run. A failed step does not stop the later
// ones unless the database connection is unusable.
func (c *Cleaner) Clean(ctx context.Context, catalogID *int64) ([]report.StepCount, error) {
	scope := "all catalogs"
	if catalogID != nil {
		scope = fmt.Sprintf("catalog %d", *catalogID)
	}
	util.InfoLog("Cleaning orphaned rows (%s)", scope)

	counts := make([]report.StepCount, 0, len(store.CleanupSteps))
	var errs []error
	for _, step := range store.CleanupSteps {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		start := c.clock.Now()
		removed, err := c.store.RunCleanupStep(ctx, step)
		if err != nil {
			err = util.StorageError("clean "+step.Name, err)
			if util.IsFatalStorageError(err) {
				return counts, err
			}
			c.logger.LogError(report.EventClean, "", err)
			errs = append(errs, err)
			continue
		}

		counts = append(counts, report.StepCount{Step: step.Name, Removed: removed})
		c.logger.LogClean(step.Name, removed, c.clock.Since(start))
		if removed > 0 {
			util.DebugLog("Clean %s: removed %d rows", step.Name, removed)
		}
	}
	return counts, errors.Join(errs...)
}

// SweepResult reports a file-existence sweep
type SweepResult struct {
	Checked  int
	Disabled []int64
	Errors   []error
	Summary  report.Summary
}

// SweepFiles disables every enabled song of a local catalog whose file is
// missing or empty. Songs are never deleted here. The sweep refuses to run
// when the catalog root itself is unreadable, so a failed mount does not
// disable the whole catalog.
func (c *Cleaner) SweepFiles(ctx context.Context, cat *store.Catalog) (*SweepResult, error) {
	if cat.IsRemote() {
		return nil, fmt.Errorf("%w: file sweep of remote catalog %q", util.ErrUnsupported, cat.Name)
	}
	if err := c.rootReadable(cat.Path); err != nil {
		util.ErrorLog("Catalog root %s unreadable, stopping clean", cat.Path)
		return nil, util.NewSyncError(util.ErrPath, cat.Path, err)
	}

	songs, err := c.store.EnabledSongsByCatalog(ctx, cat.ID)
	if err != nil {
		return nil, util.StorageError("list enabled songs", err)
	}

	result := &SweepResult{}
	ticker := report.NewTicker("clean", c.every, c.progress, c.clock)
	defer func() { result.Summary = ticker.Finish() }()

	for _, song := range songs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		ticker.Add(song.File)

		problem := c.check(song.File)
		if problem == nil {
			continue
		}

		if err := c.store.SetSongEnabled(ctx, song.ID, false); err != nil {
			err = util.StorageError("disable song", err)
			if util.IsFatalStorageError(err) {
				return result, err
			}
			result.Errors = append(result.Errors, err)
			continue
		}

		entry := util.NewSyncError(util.ErrIntegrity, song.File, problem)
		result.Disabled = append(result.Disabled, song.ID)
		result.Errors = append(result.Errors, entry)
		c.logger.LogDisable(song.ID, song.File, entry)
		util.WarnLog("Disabled %s: %v", song.File, problem)
	}

	util.InfoLog("Checked %d songs, disabled %d", result.Checked, len(result.Disabled))
	return result, nil
}

func (c *Cleaner) rootReadable(root string) error {
	info, err := c.fs.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	f, err := c.fs.Open(root)
	if err != nil {
		return err
	}
	return f.Close()
}

// check returns why a song's file no longer backs it, or nil
func (c *Cleaner) check(path string) error {
	info, err := c.fs.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("file is empty")
	}
	return nil
}
