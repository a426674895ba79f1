package meta

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/afero"
	"go.senan.xyz/taglib"
)

// Extractor turns a file path into a normalized tag record. It is treated
// as a pure function: the same bytes give the same record.
type Extractor interface {
	Extract(path string) (*TagRecord, error)
}

// TagRecord is the normalized metadata of one audio file
type TagRecord struct {
	Title      string
	Artist     string
	Album      string
	Year       int
	Track      int
	Disk       int
	Genres     []string
	Comment    string
	Lyrics     string
	Bitrate    int // bits per second
	SampleRate int
	Mode       string // mono, stereo or multichannel; empty when unknown
	Size       int64
	Duration   int // seconds
	Mime       string
}

// PropertiesFunc reads audio properties for a path on the real filesystem
type PropertiesFunc func(path string) (taglib.Properties, error)

// TagExtractor reads tags with dhowden/tag through an afero filesystem and,
// when the filesystem is the OS one, audio properties with taglib
type TagExtractor struct {
	fs         afero.Fs
	properties PropertiesFunc
}

// NewTagExtractor creates an extractor over fs. Audio properties are only
// read for afero.OsFs since taglib opens paths itself.
func NewTagExtractor(fs afero.Fs) *TagExtractor {
	e := &TagExtractor{fs: fs}
	if _, ok := fs.(*afero.OsFs); ok {
		e.properties = taglib.ReadProperties
	}
	return e
}

// WithProperties overrides the audio property reader; nil disables it
func (e *TagExtractor) WithProperties(fn PropertiesFunc) *TagExtractor {
	e.properties = fn
	return e
}

// Extract reads the file's tags. Failures, including a panic inside a
// tag library on a malformed file, wrap util.ErrExtraction.
func (e *TagExtractor) Extract(path string) (rec *TagRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = util.NewSyncError(util.ErrExtraction, path, fmt.Errorf("tag reader panicked: %v", r))
		}
	}()
	return e.extract(path)
}

func (e *TagExtractor) extract(path string) (*TagRecord, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, util.NewSyncError(util.ErrExtraction, path, fmt.Errorf("failed to open file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, util.NewSyncError(util.ErrExtraction, path, fmt.Errorf("failed to stat file: %w", err))
	}

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, util.NewSyncError(util.ErrExtraction, path, fmt.Errorf("failed to read tags: %w", err))
	}

	rec := &TagRecord{
		Title:   NormalizeName(m.Title()),
		Artist:  NormalizeName(m.Artist()),
		Album:   NormalizeName(m.Album()),
		Year:    m.Year(),
		Genres:  SplitGenres(m.Genre()),
		Comment: strings.TrimSpace(m.Comment()),
		Lyrics:  m.Lyrics(),
		Size:    info.Size(),
		Mime:    mimeFor(m.FileType(), path),
	}
	if rec.Artist == "" {
		rec.Artist = NormalizeName(m.AlbumArtist())
	}
	rec.Track, _ = m.Track()
	rec.Disk, _ = m.Disc()

	if e.properties != nil {
		// Best effort: a file with readable tags but unreadable stream
		// properties is still cataloged
		if props, err := e.properties(path); err == nil {
			applyProperties(rec, props)
		} else {
			util.DebugLog("No audio properties for %s: %v", path, err)
		}
	}

	return rec, nil
}

func applyProperties(rec *TagRecord, props taglib.Properties) {
	rec.Duration = int(props.Length.Round(time.Second) / time.Second)
	rec.Bitrate = int(props.Bitrate) * 1000
	rec.SampleRate = int(props.SampleRate)
	rec.Mode = channelMode(int(props.Channels))
}

func channelMode(channels int) string {
	switch {
	case channels == 1:
		return "mono"
	case channels == 2:
		return "stereo"
	case channels > 2:
		return "multichannel"
	default:
		return ""
	}
}

// SplitGenres splits a genre tag on the usual multi-value separators
func SplitGenres(genre string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, g := range strings.FieldsFunc(genre, func(r rune) bool {
		return r == ';' || r == '/' || r == 0
	}) {
		g = NormalizeName(g)
		key := strings.ToLower(g)
		if g == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

var mimeByType = map[tag.FileType]string{
	tag.MP3:  "audio/mpeg",
	tag.M4A:  "audio/mp4",
	tag.M4B:  "audio/mp4",
	tag.ALAC: "audio/mp4",
	tag.FLAC: "audio/flac",
	tag.OGG:  "audio/ogg",
}

var mimeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".aiff": "audio/aiff",
	".aif":  "audio/aiff",
	".wma":  "audio/x-ms-wma",
	".ape":  "audio/ape",
	".wv":   "audio/wavpack",
	".mpc":  "audio/musepack",
}

func mimeFor(ft tag.FileType, path string) string {
	if m, ok := mimeByType[ft]; ok {
		return m
	}
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "application/octet-stream"
}
