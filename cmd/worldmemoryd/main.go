// Command worldmemoryd wires configuration, the memory/shard/session
// stores, the ingest pipeline, the retrieval engine, and the conversation
// coordinator into one process. It owns none of the HTTP/auth/transport
// concerns spec.md §1 places out of scope; it exists to show the explicit,
// non-singleton construction spec.md §9's DESIGN NOTES call for, the way
// the teacher's own main() (now retired WASM glue) built its service
// graph by hand rather than through a DI container.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/coordinator"
	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/ingest"
	"github.com/kittclouds/worldmemory/internal/llmplanner"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/retrieval"
	"github.com/kittclouds/worldmemory/internal/sessionstore"
	"github.com/kittclouds/worldmemory/internal/shardstore"
	"github.com/kittclouds/worldmemory/internal/snapshot"
)

// world bundles every component constructed at process start, passed
// explicitly wherever it's needed rather than reached for as a global.
type world struct {
	cfg         config.Config
	store       *memorystore.Store
	shards      *shardstore.Store
	sessions    *sessionstore.Store
	uploads     *ingest.UploadMap
	pipeline    *ingest.Pipeline
	retrieval   *retrieval.Engine
	snapshot    *snapshot.Snapshot
	chat        *chatlog.Log
	coordinator *coordinator.Coordinator
}

func buildWorld(log *slog.Logger) (*world, error) {
	cfg := config.Load()

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	plan := llmplanner.New(llmplanner.Config{
		APIKey: apiKey,
		Model:  envOr("PLANNER_MODEL", "anthropic/claude-3.5-sonnet"),
	})
	emb := embedder.NewHTTP(embedder.HTTPConfig{
		APIKey: apiKey,
		Model:  envOr("EMBEDDER_MODEL", "openai/text-embedding-3-small"),
	})

	store := memorystore.New(emb)
	shards := shardstore.New(store, emb, cfg.IngestsDir)
	if err := shards.LoadAll(context.Background(), store.Now()); err != nil {
		return nil, err
	}

	uploads := ingest.NewUploadMap()
	pipeline := ingest.New(store, shards, uploads, plan, cfg)

	eng := retrieval.New(store, cfg)
	chat := chatlog.New(envOr("SYSTEM_PROMPT", "You are the dungeon master."), store.Now())
	snap := snapshot.New(store, chat)
	sessions := sessionstore.New(snap, cfg.SessionsDir, store.Now)
	coord := coordinator.New(store, eng, plan, chat, cfg)

	log.Info("worldmemoryd: world constructed",
		"ingests_dir", cfg.IngestsDir,
		"sessions_dir", cfg.SessionsDir,
		"search_mode_default", cfg.SearchModeDefault,
		"index_backend", cfg.IndexBackend,
	)

	return &world{
		cfg: cfg, store: store, shards: shards, sessions: sessions,
		uploads: uploads, pipeline: pipeline, retrieval: eng,
		snapshot: snap, chat: chat, coordinator: coord,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	w, err := buildWorld(log)
	if err != nil {
		log.Error("worldmemoryd: failed to construct world", "error", err)
		os.Exit(1)
	}

	summary := w.store.StateSummary()
	log.Info("worldmemoryd: ready",
		"session_memories", summary.SessionMemories,
		"npcs", summary.NPCs,
		"locations", summary.Locations,
		"shards", summary.ShardCount,
		"shard_memories", summary.ShardMemories,
		"uploads_pending", w.uploads.Pending(),
	)

	// HTTP routing, auth, CORS, and streaming transport framing are out of
	// scope (spec.md §1): this binary exists to prove the wiring compiles
	// and to serve as the construction point a transport layer would call
	// into (w.coordinator.HandleMessage, w.pipeline.Run, w.retrieval.Search,
	// w.sessions.*, w.shards.*).
}
