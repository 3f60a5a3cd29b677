package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/smard"
	"github.com/wonny/meritorder/pkg/fileutil"
)

// cacheVersion is bumped when the on-disk layout changes
const cacheVersion = 1

// ChunkKey identifies one cached chunk
type ChunkKey struct {
	Metric     contracts.Metric
	Region     string
	Resolution contracts.Resolution
	Start      time.Time
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.Region, k.Resolution, k.Metric, k.Start.UnixMilli())
}

// Cache is a file cache of SMARD chunks and indices.
// Layout: <dir>/<region>/<resolution>/<metric>/<start_ms>.json and index.json
// ⭐ SSOT: 원본 데이터 캐시는 이 타입을 통해서만 읽고 씀
type Cache struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCache creates a cache rooted at dir
func NewCache(dir string) *Cache {
	return &Cache{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Dir returns the cache root
func (c *Cache) Dir() string {
	return c.dir
}

type cachedChunk struct {
	Version int          `json:"version"`
	Chunk   *smard.Chunk `json:"chunk"`
}

type cachedIndex struct {
	Version   int         `json:"version"`
	FetchedAt time.Time   `json:"fetched_at"`
	Starts    []time.Time `json:"starts"`
}

// Lock acquires the per-key lock and returns its release func
func (c *Cache) Lock(key string) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetChunk reads a cached chunk. A missing entry is (nil, false, nil).
func (c *Cache) GetChunk(key ChunkKey) (*smard.Chunk, bool, error) {
	var entry cachedChunk
	ok, err := c.read(c.chunkPath(key), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	if entry.Version != cacheVersion || entry.Chunk == nil {
		return nil, false, nil
	}
	return entry.Chunk, true, nil
}

// PutChunk writes a chunk atomically
func (c *Cache) PutChunk(key ChunkKey, chunk *smard.Chunk) error {
	return c.write(c.chunkPath(key), cachedChunk{Version: cacheVersion, Chunk: chunk})
}

// GetIndex reads a cached index and the time it was fetched
func (c *Cache) GetIndex(m contracts.Metric, region string, res contracts.Resolution) ([]time.Time, time.Time, bool, error) {
	var entry cachedIndex
	ok, err := c.read(c.indexPath(m, region, res), &entry)
	if err != nil || !ok {
		return nil, time.Time{}, false, err
	}
	if entry.Version != cacheVersion {
		return nil, time.Time{}, false, nil
	}
	return entry.Starts, entry.FetchedAt, true, nil
}

// PutIndex writes an index atomically
func (c *Cache) PutIndex(m contracts.Metric, region string, res contracts.Resolution, starts []time.Time, fetchedAt time.Time) error {
	return c.write(c.indexPath(m, region, res), cachedIndex{
		Version:   cacheVersion,
		FetchedAt: fetchedAt.UTC(),
		Starts:    starts,
	})
}

func (c *Cache) chunkPath(key ChunkKey) string {
	return filepath.Join(c.dir, key.Region, string(key.Resolution), string(key.Metric),
		fmt.Sprintf("%d.json", key.Start.UnixMilli()))
}

func (c *Cache) indexPath(m contracts.Metric, region string, res contracts.Resolution) string {
	return filepath.Join(c.dir, region, string(res), string(m), "index.json")
}

func (c *Cache) read(path string, dest interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// 손상된 항목은 캐시 미스로 처리하고 다시 받음
		return false, nil
	}
	return true, nil
}

// write serializes to a temp file in the target directory and renames it
// into place, so readers never observe a partial entry
func (c *Cache) write(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data)
}
