package store

import "time"

// CatalogType distinguishes filesystem catalogs from replicated peers
type CatalogType string

const (
	CatalogLocal  CatalogType = "local"
	CatalogRemote CatalogType = "remote"
)

// Object types used by tag maps and the dependent tables
const (
	ObjectSong   = "song"
	ObjectAlbum  = "album"
	ObjectArtist = "artist"
)

// Catalog is a named root producing a set of songs
type Catalog struct {
	ID            int64
	Name          string
	Path          string
	Type          CatalogType
	RenamePattern string
	SortPattern   string
	RemoteKey     string
	Enabled       bool
	LastUpdate    time.Time
	LastAdd       time.Time
	LastClean     time.Time
	CreatedAt     time.Time
}

// IsRemote reports whether the catalog replicates a peer
func (c *Catalog) IsRemote() bool {
	return c.Type == CatalogRemote
}

// Song is one cataloged audio file. Comment and Lyrics live in song_data.
type Song struct {
	ID           int64
	CatalogID    int64
	File         string
	Title        string
	ArtistID     int64
	AlbumID      int64
	Track        int
	Disk         int
	Year         int
	Bitrate      int
	SampleRate   int
	Mode         string
	Size         int64
	Duration     int // seconds
	Mime         string
	AdditionTime time.Time
	UpdateTime   time.Time
	Enabled      bool
	Comment      string
	Lyrics       string
}

// SongFile is the slice of a song needed to build a FileCache
type SongFile struct {
	ID   int64
	File string
}

// SongDetail is a song with its artist and album names resolved, as served
// to replicating peers
type SongDetail struct {
	Song
	ArtistName   string
	ArtistPrefix string
	AlbumName    string
	AlbumPrefix  string
	Tags         []string
}

// Artist is a performer entity
type Artist struct {
	ID     int64
	Name   string
	Prefix string
}

// Album is identified by (name, prefix, year, disk)
type Album struct {
	ID     int64
	Name   string
	Prefix string
	Year   int
	Disk   int
}

// SongStats summarizes the songs in one or all catalogs
type SongStats struct {
	Songs    int
	Enabled  int
	Disabled int
	Artists  int
	Albums   int
	Tags     int
	Size     int64
	Duration int64 // seconds
}
