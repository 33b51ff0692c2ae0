package testutil

import (
	"context"
	"strings"

	"github.com/kittclouds/worldmemory/internal/planner"
)

// FakePlanner is a scriptable Planner fake. Each field is consulted by the
// matching method; a nil func yields a safe zero-value response, letting
// tests opt into only the behavior they need.
type FakePlanner struct {
	ExtractMemoriesFunc     func(ctx context.Context, header, window string) ([]planner.CandidateMemory, error)
	ExtractTurnMemoryFunc   func(ctx context.Context, message, reply string) (*planner.CandidateMemory, error)
	InferMovementFunc       func(ctx context.Context, currentLocation string, exits []planner.Exit, message, reply string) (planner.MovementInference, error)
	ExtractGraphChangesFunc func(ctx context.Context, message, reply, currentLocation string) (planner.GraphChanges, error)
	GenerateFunc            func(ctx context.Context, parts planner.PromptParts) (string, error)
}

func (f *FakePlanner) ExtractMemories(ctx context.Context, header, window string) ([]planner.CandidateMemory, error) {
	if f.ExtractMemoriesFunc != nil {
		return f.ExtractMemoriesFunc(ctx, header, window)
	}
	return nil, nil
}

func (f *FakePlanner) ExtractTurnMemory(ctx context.Context, message, reply string) (*planner.CandidateMemory, error) {
	if f.ExtractTurnMemoryFunc != nil {
		return f.ExtractTurnMemoryFunc(ctx, message, reply)
	}
	return nil, nil
}

func (f *FakePlanner) InferMovement(ctx context.Context, currentLocation string, exits []planner.Exit, message, reply string) (planner.MovementInference, error) {
	if f.InferMovementFunc != nil {
		return f.InferMovementFunc(ctx, currentLocation, exits, message, reply)
	}
	return planner.MovementInference{}, nil
}

func (f *FakePlanner) ExtractGraphChanges(ctx context.Context, message, reply, currentLocation string) (planner.GraphChanges, error) {
	if f.ExtractGraphChangesFunc != nil {
		return f.ExtractGraphChangesFunc(ctx, message, reply, currentLocation)
	}
	return planner.GraphChanges{}, nil
}

func (f *FakePlanner) Generate(ctx context.Context, parts planner.PromptParts) (string, error) {
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, parts)
	}
	return "You go to " + strings.TrimSpace(parts.UserMessage), nil
}
