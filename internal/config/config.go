// Package config loads the enumerated configuration options from spec.md §6
// into a single struct, read once at process start and threaded explicitly
// into every component constructor — no package-level singleton, per the
// DESIGN NOTES in spec.md §9.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/kittclouds/worldmemory/internal/scoring"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	SearchModeDefault string
	Weights           scoring.Weights
	HalfLifeHours     float64
	TypeBonus         map[string]float64
	IndexBackend      string

	KGeneral  int
	KPerEntity int
	KPerType  int
	MinTotalScore float64

	SimilarityThreshold float64

	NPCKDefault  int
	NPCMinScore  float64

	ConfidenceThresholdMemory   float64
	ConfidenceThresholdLocation float64

	MaxChunkSize int

	IngestsDir  string
	SessionsDir string
}

// Load reads configuration from the OS environment, falling back to the
// defaults enumerated in spec.md §6.
func Load() Config {
	c := Config{
		SearchModeDefault: getenv("SEARCH_MODE_DEFAULT", "hybrid"),
		Weights: scoring.Weights{
			Sim:     getenvFloat("SEARCH_W_SIM", 1.0),
			Literal: getenvFloat("SEARCH_W_LITERAL", 0.2),
			Rec:     getenvFloat("SEARCH_W_REC", 0.15),
			Type:    getenvFloat("SEARCH_W_TYPE", 0.05),
		},
		HalfLifeHours: getenvFloat("SEARCH_HALF_LIFE_HOURS", 72),
		TypeBonus:     getenvTypeBonus("SEARCH_TYPE_BONUS", scoring.DefaultTypeBonus()),
		IndexBackend:  getenv("SEARCH_INDEX_BACKEND", "naive"),

		KGeneral:      int(getenvFloat("MEMORY_K_GENERAL", 25)),
		KPerEntity:    int(getenvFloat("MEMORY_K_PER_ENTITY", 5)),
		KPerType:      int(getenvFloat("MEMORY_K_PER_TYPE", 3)),
		MinTotalScore: getenvFloat("MEMORY_MIN_TOTAL_SCORE", 0.75),

		SimilarityThreshold: getenvFloat("MEMORY_SIMILARITY_THRESHOLD", 0.75),

		NPCKDefault: int(getenvFloat("NPC_K_DEFAULT", 3)),
		NPCMinScore: getenvFloat("NPC_MIN_SCORE", 0.55),

		ConfidenceThresholdMemory:   getenvFloat("CONFIDENCE_THRESHOLD_MEMORY", 0.6),
		ConfidenceThresholdLocation: getenvFloat("CONFIDENCE_THRESHOLD_LOCATION", 0.7),

		MaxChunkSize: int(getenvFloat("MAX_CHUNK_SIZE", 12000)),

		IngestsDir:  getenv("INGESTS_DIR", "./data/ingests"),
		SessionsDir: getenv("SESSIONS_DIR", "./data/sessions"),
	}
	return c
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvTypeBonus(key string, fallback map[string]float64) map[string]float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var m map[string]float64
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return fallback
	}
	return m
}
