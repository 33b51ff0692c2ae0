// Package sessionstore implements the directory-per-session persistence
// surface named in spec.md §6 but not given operations there: SPEC_FULL.md
// §4.8 recovers List/Save/Rename/Load/Delete from the original
// `sessions/service.py` router this module's ConversationCoordinator
// replaces. Each session is one directory of {metadata.json, world.json,
// chat.jsonl, runtime.json}, written atomically in the same
// temp-file-then-rename style as package shardstore.
package sessionstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kittclouds/worldmemory/internal/apperr"
	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/snapshot"
)

const schemaVersion = 1

// Metadata is the contents of a session's metadata.json.
type Metadata struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Notes     string `json:"notes"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Schema    int    `json:"schema"`
}

// SessionMeta is one List() entry, metadata plus the on-disk size.
type SessionMeta struct {
	Metadata
	SizeBytes int64
}

// Store is the disk-backed session store.
type Store struct {
	baseDir string
	snap    *snapshot.Snapshot
	now     func() int64
}

// New constructs a Store rooted at baseDir.
func New(snap *snapshot.Snapshot, baseDir string, now func() int64) *Store {
	return &Store{baseDir: baseDir, snap: snap, now: now}
}

func (s *Store) dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// List enumerates session directories, sorted by updatedAt descending, per
// the original's list_sessions ordering (SPEC_FULL.md §4.8).
func (s *Store) List() ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Internal("sessionstore: read base dir", err)
	}

	out := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMetadata(entry.Name())
		if err != nil {
			continue
		}
		size := dirSize(s.dir(entry.Name()))
		out = append(out, SessionMeta{Metadata: meta, SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func dirSize(dir string) int64 {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		info, err := e.Info()
		if err == nil {
			total += info.Size()
		}
	}
	return total
}

func (s *Store) readMetadata(id string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(id), "metadata.json"))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Save exports the live session into a new directory (overwriteID empty)
// or overwrites an existing one (overwriteID set), bumping updatedAt.
func (s *Store) Save(name, notes, overwriteID string) (SessionMeta, error) {
	id := overwriteID
	now := s.now()
	createdAt := now
	if id == "" {
		id = generateID()
	} else if existing, err := s.readMetadata(id); err == nil {
		createdAt = existing.CreatedAt
	}

	meta := Metadata{ID: id, Name: name, Notes: notes, CreatedAt: createdAt, UpdatedAt: now, Schema: schemaVersion}
	exp := s.snap.Export()

	if err := s.writeSession(id, meta, exp); err != nil {
		return SessionMeta{}, err
	}
	return SessionMeta{Metadata: meta, SizeBytes: dirSize(s.dir(id))}, nil
}

func (s *Store) writeSession(id string, meta Metadata, exp snapshot.Export) error {
	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Internal("sessionstore: mkdir session dir", err)
	}

	if err := writeJSONAtomic(dir, "metadata.json", meta); err != nil {
		return err
	}
	if err := writeJSONAtomic(dir, "world.json", exp.WorldState); err != nil {
		return err
	}
	if err := writeChatJSONL(dir, exp.ChatMessages); err != nil {
		return err
	}
	if err := writeJSONAtomic(dir, "runtime.json", exp.RuntimeState); err != nil {
		return err
	}
	return nil
}

func writeJSONAtomic(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Internal("sessionstore: marshal "+name, err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return apperr.Internal("sessionstore: create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Internal("sessionstore: write "+name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Internal("sessionstore: close temp file", err)
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}

func writeChatJSONL(dir string, messages []chatlog.Message) error {
	var b strings.Builder
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return apperr.Internal("sessionstore: marshal chat message", err)
		}
		b.Write(data)
		b.WriteString("\n")
	}
	tmp, err := os.CreateTemp(dir, "chat.jsonl.*.tmp")
	if err != nil {
		return apperr.Internal("sessionstore: create temp chat file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Internal("sessionstore: write chat.jsonl", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Internal("sessionstore: close temp chat file", err)
	}
	return os.Rename(tmpPath, filepath.Join(dir, "chat.jsonl"))
}

// Rename updates a session's metadata only; no re-export.
func (s *Store) Rename(id, name, notes string) (SessionMeta, error) {
	meta, err := s.readMetadata(id)
	if err != nil {
		return SessionMeta{}, apperr.NotFound("sessionstore: session %q not found", id)
	}
	meta.Name = name
	meta.Notes = notes
	meta.UpdatedAt = s.now()
	if err := writeJSONAtomic(s.dir(id), "metadata.json", meta); err != nil {
		return SessionMeta{}, err
	}
	return SessionMeta{Metadata: meta, SizeBytes: dirSize(s.dir(id))}, nil
}

// Load reads session id's world state and chat log and delegates to
// Snapshot.Import in the requested mode.
func (s *Store) Load(ctx context.Context, id string, mode snapshot.ImportMode) (snapshot.ImportSummary, error) {
	dir := s.dir(id)
	if _, err := os.Stat(dir); err != nil {
		return snapshot.ImportSummary{}, apperr.NotFound("sessionstore: session %q not found", id)
	}

	var world snapshot.WorldState
	if err := readJSON(filepath.Join(dir, "world.json"), &world); err != nil {
		return snapshot.ImportSummary{}, apperr.Internal("sessionstore: read world.json", err)
	}
	messages, err := readChatJSONL(filepath.Join(dir, "chat.jsonl"))
	if err != nil {
		return snapshot.ImportSummary{}, apperr.Internal("sessionstore: read chat.jsonl", err)
	}

	exp := snapshot.Export{WorldState: world, ChatMessages: messages, RuntimeState: map[string]any{}}
	return s.snap.Import(ctx, exp, mode)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func readChatJSONL(path string) ([]chatlog.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []chatlog.Message
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m chatlog.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes session id's directory entirely.
func (s *Store) Delete(id string) error {
	dir := s.dir(id)
	if _, err := os.Stat(dir); err != nil {
		return apperr.NotFound("sessionstore: session %q not found", id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Internal("sessionstore: delete session dir", err)
	}
	return nil
}

func generateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
