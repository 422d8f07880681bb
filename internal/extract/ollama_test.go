package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

func ollamaAnswer(t *testing.T, w http.ResponseWriter, answer string) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"response": answer}))
}

func TestOllamaBackend_ExtractBatch(t *testing.T) {
	t.Parallel()

	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		ollamaAnswer(t, w, `[
			{"job_ref":"greenhouse|acme|1","role_title":"SRE","confidence":0.9},
			{"job_ref":"greenhouse|acme|2","role_title":"PM","confidence":0.8}
		]`)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "test-model", time.Second, zap.NewNop())
	results, err := b.ExtractBatch(context.Background(), []Request{
		{RefString: "greenhouse|acme|1", Text: "run the platform", Title: "SRE", Company: "Acme"},
		{RefString: "greenhouse|acme|2", Text: "own the roadmap", Title: "PM", Company: "Acme"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, ResultStructured, results[0].Kind)
	require.Equal(t, "SRE", results[0].Extracted.RoleTitle)
	require.Equal(t, pipeline.SourceGreenhouse, results[0].Extracted.Ref.SourceType)
	require.Equal(t, ResultStructured, results[1].Kind)

	require.Equal(t, "test-model", gotReq.Model)
	require.False(t, gotReq.Stream)
	require.Equal(t, 0.1, gotReq.Options.Temperature)
	require.Contains(t, gotReq.Prompt, "/no_think")
	require.Contains(t, gotReq.Prompt, "greenhouse|acme|1")
	require.Contains(t, gotReq.System, "hiring signals")
}

func TestOllamaBackend_BatchWithoutArrayFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ollamaAnswer(t, w, "I could not produce JSON, sorry.")
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "test-model", time.Second, zap.NewNop())
	results, err := b.ExtractBatch(context.Background(), []Request{
		{RefString: "greenhouse|acme|1"},
		{RefString: "greenhouse|acme|2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, ResultNeedsFallback, r.Kind)
	}
}

func TestOllamaBackend_MissingItemNeedsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ollamaAnswer(t, w, `[{"job_ref":"greenhouse|acme|2","role_title":"PM"}]`)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "test-model", time.Second, zap.NewNop())
	results, err := b.ExtractBatch(context.Background(), []Request{
		{RefString: "greenhouse|acme|1"},
		{RefString: "greenhouse|acme|2"},
	})
	require.NoError(t, err)
	require.Equal(t, ResultNeedsFallback, results[0].Kind)
	require.Equal(t, ResultStructured, results[1].Kind)
}

func TestOllamaBackend_ExtractSingle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ollamaAnswer(t, w, "Sure:\n{\"role_title\":\"SRE\",\"remote_type\":\"remote\",\"confidence\":0.7}")
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "test-model", time.Second, zap.NewNop())
	e, err := b.ExtractSingle(context.Background(), Request{
		RefString: "greenhouse|acme|1",
		Text:      "keep things up",
		Title:     "SRE",
		Company:   "Acme",
	})
	require.NoError(t, err)
	require.Equal(t, "SRE", e.RoleTitle)
	require.Equal(t, pipeline.RemoteRemote, e.RemoteType)
	require.Equal(t, 0.7, e.Confidence)
}

func TestOllamaBackend_ServerErrorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "test-model", time.Second, zap.NewNop())
	_, err := b.ExtractBatch(context.Background(), []Request{{RefString: "greenhouse|acme|1"}})
	require.Error(t, err)
}
