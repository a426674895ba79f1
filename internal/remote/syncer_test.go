package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRPC serves total songs with IDs 1..total and can fault chosen pages
type fakeRPC struct {
	mu           sync.Mutex
	total        int
	handshakeErr error
	pageFaults   map[int]error
	offsets      []int
}

func (f *fakeRPC) Handshake(ctx context.Context) (string, error) {
	if f.handshakeErr != nil {
		return "", f.handshakeErr
	}
	return "token", nil
}

func (f *fakeRPC) ListCatalogs(ctx context.Context, token, baseURL string) ([]CatalogInfo, error) {
	half := f.total / 2
	return []CatalogInfo{{Name: "a", Count: half}, {Name: "b", Count: f.total - half}}, nil
}

func (f *fakeRPC) GetSongs(ctx context.Context, token string, offset, limit int) ([]*Song, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()
	if err, ok := f.pageFaults[offset]; ok {
		return nil, err
	}
	var songs []*Song
	for id := offset + 1; id <= min(offset+limit, f.total); id++ {
		songs = append(songs, &Song{ID: int64(id), Title: fmt.Sprintf("song %d", id)})
	}
	return songs, nil
}

// memCatalog is an in-memory merger and store for one catalog
type memCatalog struct {
	mu      sync.Mutex
	files   map[string]int64
	nextID  int64
	deleted []int64
	touched bool
	mergeFn func(file string) error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{files: make(map[string]int64)}
}

func (m *memCatalog) MergeRemote(ctx context.Context, song *Song, file string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeFn != nil {
		if err := m.mergeFn(file); err != nil {
			return 0, false, err
		}
	}
	if id, ok := m.files[file]; ok {
		return id, false, nil
	}
	m.nextID++
	m.files[file] = m.nextID
	return m.nextID, true, nil
}

func (m *memCatalog) SongFilesByCatalog(ctx context.Context, catalogID int64) ([]store.SongFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SongFile
	for f, id := range m.files {
		out = append(out, store.SongFile{ID: id, File: f})
	}
	return out, nil
}

func (m *memCatalog) DeleteSongs(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for f, fid := range m.files {
			if fid == id {
				delete(m.files, f)
			}
		}
	}
	m.deleted = append(m.deleted, ids...)
	return int64(len(ids)), nil
}

func (m *memCatalog) TouchLastUpdate(ctx context.Context, id int64, at time.Time) error {
	m.touched = true
	return nil
}

func remoteCatalog() *store.Catalog {
	return &store.Catalog{ID: 1, Name: "peer", Path: "http://peer.example/", Type: store.CatalogRemote}
}

func TestSyncPagesByOffset(t *testing.T) {
	rpc := &fakeRPC{total: 1200}
	mem := newMemCatalog()
	s := NewSyncer(&SyncerConfig{RPC: rpc, Store: mem})

	result, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 500, 1000}, rpc.offsets)
	assert.Equal(t, []int{0, 500, 1000}, result.Offsets)
	assert.Equal(t, 1200, result.Total)
	assert.Equal(t, 1200, result.Inserted)
	assert.True(t, result.Complete)
	assert.True(t, mem.touched)
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, []State{StateIdle, StateHandshaking, StateListing, StatePaging, StateDone}, s.Transitions())

	_, ok := mem.files["http://peer.example/play?song=1200"]
	assert.True(t, ok, "file paths are rewritten to stream URLs")
}

func TestSyncPageFaultKeepsEarlierPages(t *testing.T) {
	fault := util.NewSyncError(util.ErrRemoteProtocol, "", &Fault{Code: FaultInternal, String: "boom"})
	rpc := &fakeRPC{total: 1200, pageFaults: map[int]error{1000: fault}}
	mem := newMemCatalog()

	// A song from an earlier run that the faulted page might still list
	mem.files["http://peer.example/play?song=1100"] = 999

	s := NewSyncer(&SyncerConfig{RPC: rpc, Store: mem})
	result, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 500, 1000}, rpc.offsets)
	assert.Equal(t, 1000, result.Inserted, "pages 0 and 1 stay merged")
	assert.False(t, result.Complete)
	assert.Len(t, result.Errors, 1)
	assert.True(t, IsFault(result.Errors[0], FaultInternal))
	assert.Empty(t, mem.deleted, "nothing is deleted after an incomplete listing")
	assert.Contains(t, mem.files, "http://peer.example/play?song=1100")
	assert.Equal(t, StateDone, s.State())
}

func TestSyncDeletesSongsAbsentUpstream(t *testing.T) {
	mem := newMemCatalog()
	mem.files["http://peer.example/play?song=7000"] = 500
	mem.nextID = 500

	s := NewSyncer(&SyncerConfig{RPC: &fakeRPC{total: 10}, Store: mem})
	result, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Deleted)
	assert.Equal(t, []int64{500}, mem.deleted)
	assert.Len(t, mem.files, 10)
}

func TestSyncIsIdempotent(t *testing.T) {
	rpc := &fakeRPC{total: 30}
	mem := newMemCatalog()
	s := NewSyncer(&SyncerConfig{RPC: rpc, Store: mem, PageSize: 7})

	first, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.NoError(t, err)
	second, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.NoError(t, err)

	assert.Equal(t, 30, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 30, second.Known)
	assert.Zero(t, second.Deleted)
}

func TestSyncHandshakeFailure(t *testing.T) {
	handshakeErr := util.NewSyncError(util.ErrRemoteProtocol, "http://peer.example", errors.New("no token"))
	mem := newMemCatalog()
	s := NewSyncer(&SyncerConfig{RPC: &fakeRPC{total: 10, handshakeErr: handshakeErr}, Store: mem})

	_, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.ErrorIs(t, err, util.ErrRemoteProtocol)

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []State{StateIdle, StateHandshaking, StateFailed}, s.Transitions())
	assert.False(t, mem.touched)
}

func TestSyncFatalStorageErrorStops(t *testing.T) {
	mem := newMemCatalog()
	mem.mergeFn = func(file string) error {
		return util.StorageError("insert song", errors.New("sql: database is closed"))
	}
	s := NewSyncer(&SyncerConfig{RPC: &fakeRPC{total: 10}, Store: mem})

	_, err := s.Sync(context.Background(), remoteCatalog(), mem)
	require.Error(t, err)
	assert.True(t, util.IsFatalStorageError(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestSyncCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mem := newMemCatalog()
	mem.mergeFn = func(file string) error {
		if file == "http://peer.example/play?song=5" {
			cancel()
		}
		return nil
	}

	rpc := &fakeRPC{total: 20}
	s := NewSyncer(&SyncerConfig{RPC: rpc, Store: mem, PageSize: 5})
	_, err := s.Sync(ctx, remoteCatalog(), mem)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0}, rpc.offsets, "no page is requested after cancellation")
	assert.Len(t, mem.files, 5, "the merged page stays committed")
	assert.Equal(t, StateFailed, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "paging", StatePaging.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "http://peer/play?song=12", StreamURL("http://peer/", 12))
	assert.Equal(t, "http://peer/sub/play?song=1", StreamURL("http://peer/sub", 1))
}
