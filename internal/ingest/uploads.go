package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/kittclouds/worldmemory/internal/apperr"
)

// UploadMap is the process-local {id -> raw text} map that backs ingest
// streams: a consumer takes the text exactly once at stream start.
type UploadMap struct {
	mu    sync.Mutex
	texts map[string]string
}

// NewUploadMap returns an empty upload map.
func NewUploadMap() *UploadMap {
	return &UploadMap{texts: make(map[string]string)}
}

// Put stores text under a freshly generated id and returns it.
func (u *UploadMap) Put(text string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := generateUploadID()
	u.texts[id] = text
	return id
}

// Take removes and returns the text stored under id. A second call for the
// same id (or an unknown id) reports not-found.
func (u *UploadMap) Take(id string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	text, ok := u.texts[id]
	if !ok {
		return "", apperr.NotFound("ingest: upload %q not found", id)
	}
	delete(u.texts, id)
	return text, nil
}

// Pending reports how many uploads are stored but not yet consumed.
func (u *UploadMap) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.texts)
}

func generateUploadID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
