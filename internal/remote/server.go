package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const (
	// DefaultSessionTTL is how long a handshake token stays valid
	DefaultSessionTTL = time.Hour

	// handshakeSkew is the accepted clock difference between peers
	handshakeSkew = 5 * time.Minute

	maxRequestBytes = 1 << 20
)

// ServerConfig configures a Server
type ServerConfig struct {
	Store          *store.Store
	Key            string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	Fs             afero.Fs
	Logger         *report.EventLogger
	Clock          clockwork.Clock
}

// Server offers the local, enabled catalogs to replicating peers
type Server struct {
	store   *store.Store
	key     string
	ttl     time.Duration
	timeout time.Duration
	fs      afero.Fs
	logger  *report.EventLogger
	clock   clockwork.Clock

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewServer creates a server. An empty key refuses every handshake.
func NewServer(cfg *ServerConfig) *Server {
	s := &Server{
		store:    cfg.Store,
		key:      cfg.Key,
		ttl:      cfg.SessionTTL,
		timeout:  cfg.RequestTimeout,
		fs:       cfg.Fs,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		sessions: make(map[string]time.Time),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultSessionTTL
	}
	if s.timeout <= 0 {
		s.timeout = 2 * DefaultPageTimeout
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(middleware.Timeout(s.timeout))

	r.Post(RPCPath, s.handleRPC)
	r.Get(PlayPath, s.handlePlay)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func writeJSON(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		util.WarnLog("Failed to write RPC response: %v", err)
	}
}

func writeFault(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, &Response{Fault: &Fault{Code: code, String: fmt.Sprintf(format, args...)}})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeFault(w, FaultBadRequest, "malformed request: %v", err)
		return
	}

	var (
		result any
		fault  *Fault
	)
	switch req.Method {
	case MethodHandshake:
		result, fault = s.handshake(req.Params)
	case MethodListCatalogs:
		result, fault = s.listCatalogs(r.Context(), req.Params)
	case MethodGetSongs:
		result, fault = s.getSongs(r.Context(), req.Params)
	default:
		fault = &Fault{Code: FaultUnknownMethod, String: "unknown method " + req.Method}
	}
	if fault != nil {
		util.DebugLog("RPC %s from %s: %v", req.Method, r.RemoteAddr, fault)
		writeJSON(w, &Response{Fault: fault})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		writeFault(w, FaultInternal, "failed to encode result")
		return
	}
	writeJSON(w, &Response{Result: raw})
}

func decodeParams(raw json.RawMessage, v any) *Fault {
	if len(raw) == 0 {
		return &Fault{Code: FaultBadRequest, String: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Fault{Code: FaultBadRequest, String: "malformed params: " + err.Error()}
	}
	return nil
}

func (s *Server) handshake(raw json.RawMessage) (any, *Fault) {
	var p HandshakeParams
	if f := decodeParams(raw, &p); f != nil {
		return nil, f
	}

	now := s.clock.Now()
	skew := now.Sub(time.Unix(p.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if s.key == "" || skew > handshakeSkew || p.Passphrase != Passphrase(s.key, p.Timestamp) {
		s.logger.LogRemote("handshake", "rejected "+p.Root, errors.New("bad passphrase"))
		return nil, &Fault{Code: FaultBadKey, String: "handshake rejected"}
	}

	token := uuid.NewString()
	expires := now.Add(s.ttl)

	s.mu.Lock()
	for t, exp := range s.sessions {
		if !now.Before(exp) {
			delete(s.sessions, t)
		}
	}
	s.sessions[token] = expires
	s.mu.Unlock()

	util.InfoLog("Handshake from %s", p.Root)
	return HandshakeResult{Token: token, Expires: expires.Unix()}, nil
}

func (s *Server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[token]
	if !ok {
		return false
	}
	if !s.clock.Now().Before(exp) {
		delete(s.sessions, token)
		return false
	}
	return true
}

// offered returns the local catalogs served to peers
func (s *Server) offered(ctx context.Context) ([]*store.Catalog, error) {
	all, err := s.store.ListCatalogs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*store.Catalog
	for _, c := range all {
		if c.Enabled && !c.IsRemote() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Server) listCatalogs(ctx context.Context, raw json.RawMessage) (any, *Fault) {
	var p ListCatalogsParams
	if f := decodeParams(raw, &p); f != nil {
		return nil, f
	}
	if !s.validToken(p.Token) {
		return nil, &Fault{Code: FaultBadToken, String: "invalid or expired token"}
	}

	catalogs, err := s.offered(ctx)
	if err != nil {
		return nil, &Fault{Code: FaultInternal, String: "failed to list catalogs"}
	}

	infos := make([]CatalogInfo, 0, len(catalogs))
	for _, c := range catalogs {
		id := c.ID
		stats, err := s.store.CountSongs(ctx, &id)
		if err != nil {
			return nil, &Fault{Code: FaultInternal, String: "failed to count songs"}
		}
		infos = append(infos, CatalogInfo{Name: c.Name, Count: stats.Enabled})
	}
	util.DebugLog("Listing %d catalogs for peer %s", len(infos), p.BaseURL)
	return infos, nil
}

func (s *Server) getSongs(ctx context.Context, raw json.RawMessage) (any, *Fault) {
	var p GetSongsParams
	if f := decodeParams(raw, &p); f != nil {
		return nil, f
	}
	if !s.validToken(p.Token) {
		return nil, &Fault{Code: FaultBadToken, String: "invalid or expired token"}
	}
	if p.Offset < 0 || p.Limit <= 0 || p.Limit > 5000 {
		return nil, &Fault{Code: FaultBadRequest, String: "offset or limit out of range"}
	}

	catalogs, err := s.offered(ctx)
	if err != nil {
		return nil, &Fault{Code: FaultInternal, String: "failed to list catalogs"}
	}
	ids := make([]int64, len(catalogs))
	for i, c := range catalogs {
		ids[i] = c.ID
	}

	page, err := s.store.SongsPage(ctx, ids, p.Offset, p.Limit)
	if err != nil {
		return nil, &Fault{Code: FaultInternal, String: "failed to read songs"}
	}

	songs := make([]*Song, len(page))
	for i, d := range page {
		songs[i] = &Song{
			ID:         d.ID,
			Title:      d.Title,
			Artist:     displayName(d.ArtistPrefix, d.ArtistName),
			Album:      displayName(d.AlbumPrefix, d.AlbumName),
			Year:       d.Year,
			Track:      d.Track,
			Disk:       d.Disk,
			Bitrate:    d.Bitrate,
			SampleRate: d.SampleRate,
			Mode:       d.Mode,
			Size:       d.Size,
			Duration:   d.Duration,
			Mime:       d.Mime,
			Comment:    d.Comment,
			Tags:       d.Tags,
		}
	}
	return songs, nil
}

// handlePlay streams a song and records the play. Replicated songs are
// redirected to the peer that owns them.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("song"), 10, 64)
	if err != nil {
		http.Error(w, "bad song id", http.StatusBadRequest)
		return
	}

	song, err := s.store.GetSong(r.Context(), id)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if song == nil || !song.Enabled {
		http.NotFound(w, r)
		return
	}

	if err := s.store.RecordPlay(r.Context(), song, s.clock.Now().Unix(), r.UserAgent()); err != nil {
		util.WarnLog("Failed to record play of %d: %v", id, err)
	}

	cat, err := s.store.GetCatalog(r.Context(), song.CatalogID)
	if err == nil && cat != nil && cat.IsRemote() {
		http.Redirect(w, r, song.File, http.StatusFound)
		return
	}

	f, err := s.fs.Open(song.File)
	if err != nil {
		s.logger.LogError(report.EventError, song.File, util.NewSyncError(util.ErrIntegrity, song.File, err))
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if song.Mime != "" {
		w.Header().Set("Content-Type", song.Mime)
	}
	http.ServeContent(w, r, song.File, song.UpdateTime, f)
}
