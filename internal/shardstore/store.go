// Package shardstore implements the ShardStore of spec.md §4.3: the disk
// side of ingest shards (one JSON object per shard, atomic rewrite on every
// update) plus the load-time vector recomputation contract shared with
// MemoryStore. Vectors are never persisted — stripped on write via the
// model.Memory struct's json:"-" tags on Vector/WindowVector, and rebuilt
// here on every load.
package shardstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kittclouds/worldmemory/internal/apperr"
	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
)

// Store is the disk-backed shard store.
type Store struct {
	baseDir string
	mem     *memorystore.Store
	emb     embedder.Embedder
}

// New constructs a Store rooted at baseDir, writing loaded shards into mem
// and using emb to recompute vectors on load.
func New(mem *memorystore.Store, emb embedder.Embedder, baseDir string) *Store {
	return &Store{baseDir: baseDir, mem: mem, emb: emb}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Persist atomically writes shard id's current in-memory state to disk,
// stripping vectors (already excluded from JSON via struct tags on
// model.Memory).
func (s *Store) Persist(id string) error {
	sh := s.mem.Shard(id)
	if sh == nil {
		return apperr.NotFound("shardstore: shard %q not found", id)
	}
	return s.writeAtomic(id, sh)
}

// writeAtomic marshals sh and writes it to a temporary file in baseDir,
// then renames it over id's shard file, so a crash mid-write never leaves
// a corrupt-but-loadable shard file. Shared by Persist and Rename.
func (s *Store) writeAtomic(id string, sh *model.Shard) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return apperr.Internal("shardstore: mkdir base dir", err)
	}

	data, err := json.MarshalIndent(sh, "", "  ")
	if err != nil {
		return apperr.Internal("shardstore: marshal shard", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, id+".*.tmp")
	if err != nil {
		return apperr.Internal("shardstore: create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Internal("shardstore: write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Internal("shardstore: close temp file", err)
	}
	if err := os.Rename(tmpPath, s.path(id)); err != nil {
		os.Remove(tmpPath)
		return apperr.Internal("shardstore: rename temp file", err)
	}
	return nil
}

// readShardFile reads and parses id's JSON file. A malformed file yields an
// error; LoadAll skips such files and List reports them by id and size only,
// per spec.md §7's "subsequent shard load cleanly ignores malformed files".
func (s *Store) readShardFile(id string) (*model.Shard, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("shardstore: shard %q not found", id)
		}
		return nil, apperr.Internal("shardstore: read shard file", err)
	}
	sh := model.NewShard(id)
	if err := json.Unmarshal(data, sh); err != nil {
		return nil, apperr.Internal("shardstore: malformed shard file", err)
	}
	sh.IngestID = id
	if sh.Nodes == nil {
		sh.Nodes = make(map[string]*model.LocationNode)
	}
	if sh.NPCIndex == nil {
		sh.NPCIndex = make(map[string]*model.NPCSnapshot)
	}
	return sh, nil
}

// recomputeVectors rebuilds Vector and WindowVector for every memory in sh
// from Explanation/WindowText (or the canonical-text fallback), and resets
// Timestamp to now so recency is anchored at load time (spec.md §4.2).
func (s *Store) recomputeVectors(ctx context.Context, sh *model.Shard, now int64) {
	for _, m := range sh.Memories {
		text := m.Explanation
		if text == "" {
			text = canonicalMemoryText(m)
		}
		if vec, err := s.emb.Embed(ctx, text); err == nil {
			m.Vector = vec
		}
		if m.WindowText != "" {
			if wv, err := s.emb.Embed(ctx, m.WindowText); err == nil {
				m.WindowVector = wv
			}
		}
		m.Timestamp = now
	}
}

func canonicalMemoryText(m *model.Memory) string {
	text := fmt.Sprintf("[%s] %s", m.Type, m.Summary)
	for _, e := range m.Entities {
		text += " " + e
	}
	if m.SourceContext != "" {
		text += " " + m.SourceContext
	}
	return text
}

// Load reads shard id from disk, recomputes embeddings eagerly, installs it
// into the memory store, and reports the elapsed wall-clock time.
func (s *Store) Load(ctx context.Context, id string, now int64) (time.Duration, error) {
	start := time.Now()
	sh, err := s.readShardFile(id)
	if err != nil {
		return 0, err
	}
	s.recomputeVectors(ctx, sh, now)
	s.mem.PutShard(sh)
	return time.Since(start), nil
}

// LoadAll scans baseDir for *.json shard files and loads each one,
// skipping (not failing on) malformed files.
func (s *Store) LoadAll(ctx context.Context, now int64) error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Internal("shardstore: read base dir", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if _, err := s.Load(ctx, id, now); err != nil {
			continue
		}
	}
	return nil
}

// Summary is one list() entry.
type Summary struct {
	ID        string
	Name      string
	Locations int
	Memories  int
	Bytes     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List enumerates every shard file in baseDir, parsing best-effort and
// sorting by lowercased name ascending.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Internal("shardstore: read base dir", err)
	}

	out := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sh, err := s.readShardFile(id)
		if err != nil {
			out = append(out, Summary{ID: id, Bytes: info.Size(), CreatedAt: info.ModTime(), UpdatedAt: info.ModTime()})
			continue
		}
		out = append(out, Summary{
			ID:        id,
			Name:      sh.Name,
			Locations: len(sh.Nodes),
			Memories:  len(sh.Memories),
			Bytes:     info.Size(),
			// The shard JSON carries no timestamp of its own; mtime is the
			// only signal the filesystem gives us for both fields.
			CreatedAt: info.ModTime(),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Rename updates shard id's display name on disk and in memory, via the
// same atomic temp-file-then-rename write Persist uses.
func (s *Store) Rename(id, name string) error {
	normalized := model.NormalizeShardName(name)
	sh, err := s.readShardFile(id)
	if err != nil {
		return err
	}
	sh.Name = normalized
	if err := s.writeAtomic(id, sh); err != nil {
		return err
	}
	s.mem.RenameShard(id, normalized)
	return nil
}

// Delete removes shard id's file and clears its in-memory state.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound("shardstore: shard %q not found", id)
		}
		return apperr.Internal("shardstore: delete shard file", err)
	}
	s.mem.DeleteShard(id)
	return nil
}
