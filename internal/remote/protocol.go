// Package remote replicates catalogs between instances over a small JSON
// RPC protocol: a handshake exchanging a shared key for a session token,
// a catalog listing, and paged song fetches.
package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// RPCPath is where the server accepts requests, relative to its root
	RPCPath = "/server/rpc"

	// PlayPath streams one song to a replicating peer
	PlayPath = "/play"

	// DefaultPageSize is the number of songs requested per page
	DefaultPageSize = 500
)

// RPC method names
const (
	MethodHandshake    = "handshake"
	MethodListCatalogs = "list_catalogs"
	MethodGetSongs     = "get_songs"
)

// Fault codes
const (
	FaultBadRequest    = 400
	FaultBadKey        = 401
	FaultBadToken      = 403
	FaultUnknownMethod = 404
	FaultInternal      = 500
)

// Request is the envelope of every call
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either a result or a fault, never both
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *Fault          `json:"fault,omitempty"`
}

// Fault is an explicit error signaled by the server
type Fault struct {
	Code   int    `json:"code"`
	String string `json:"string"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

// HandshakeParams authenticates with a passphrase derived from the shared
// key and a timestamp, so the key itself never crosses the wire
type HandshakeParams struct {
	Root       string `json:"root"`
	Timestamp  int64  `json:"timestamp"`
	Passphrase string `json:"passphrase"`
}

// HandshakeResult carries the session token
type HandshakeResult struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// ListCatalogsParams asks for the catalogs visible to a token. BaseURL is
// the requesting instance's own address, recorded by the server.
type ListCatalogsParams struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url"`
}

// CatalogInfo is one catalog offered by a peer
type CatalogInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GetSongsParams requests one page of songs
type GetSongsParams struct {
	Token  string `json:"token"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Song is a serialized song as served to peers. Artist and album carry
// their display names, prefix included.
type Song struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	Year       int      `json:"year"`
	Track      int      `json:"track"`
	Disk       int      `json:"disk"`
	Bitrate    int      `json:"bitrate"`
	SampleRate int      `json:"rate"`
	Mode       string   `json:"mode"`
	Size       int64    `json:"size"`
	Duration   int      `json:"time"`
	Mime       string   `json:"mime"`
	Comment    string   `json:"comment,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Passphrase derives the handshake passphrase for a key at a timestamp
func Passphrase(key string, timestamp int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(timestamp, 10) + key))
	return hex.EncodeToString(sum[:])
}

// StreamURL is the local file path recorded for a replicated song
func StreamURL(root string, songID int64) string {
	return strings.TrimRight(root, "/") + PlayPath + "?song=" + strconv.FormatInt(songID, 10)
}

// displayName reattaches a stripped prefix
func displayName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + " " + name
}
