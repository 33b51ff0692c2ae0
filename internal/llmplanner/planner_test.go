package llmplanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/planner"
)

func newTestServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Content string `json:"content"`
		}{Content: content}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractTurnMemory_ParsesJSON(t *testing.T) {
	srv := newTestServer(t, `{"memories":[{"summary":"the well is cursed","type":"world_state","entities":["well"],"confidence":0.9}]}`)
	client := New(Config{Model: "test-model", BaseURL: srv.URL, HTTPClient: srv.Client()})

	cand, err := client.ExtractTurnMemory(context.Background(), "look at the well", "it seems cursed")
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "the well is cursed", cand.Summary)
	require.Equal(t, "world_state", cand.Type)
}

func TestExtractTurnMemory_NoMemoryReturnsNil(t *testing.T) {
	srv := newTestServer(t, `{"memories":[]}`)
	client := New(Config{Model: "test-model", BaseURL: srv.URL, HTTPClient: srv.Client()})

	cand, err := client.ExtractTurnMemory(context.Background(), "hello", "hi there")
	require.NoError(t, err)
	require.Nil(t, cand)
}

func TestCompleteJSON_StripsCodeFenceAndRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := "not json at all"
		if calls > 1 {
			content = "```json\n{\"move\":true,\"target\":\"Market Square\",\"confidence\":0.8}\n```"
		}
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Content string `json:"content"`
		}{Content: content}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{Model: "test-model", BaseURL: srv.URL, HTTPClient: srv.Client()})
	inference, err := client.InferMovement(context.Background(), "Town Gate", nil, "go to market", "you walk over")
	require.NoError(t, err)
	require.True(t, inference.Move)
	require.Equal(t, "Market Square", inference.Target)
	require.Equal(t, 2, calls)
}

func TestGenerate_ReturnsRawReply(t *testing.T) {
	srv := newTestServer(t, "You step into the square.")
	client := New(Config{Model: "test-model", BaseURL: srv.URL, HTTPClient: srv.Client()})

	reply, err := client.Generate(context.Background(), planner.PromptParts{UserMessage: "enter the square"})
	require.NoError(t, err)
	require.Equal(t, "You step into the square.", reply)
}
