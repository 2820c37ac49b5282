package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/app/agent"
	"docintel/config"
	"docintel/index"
	"docintel/ingest"
	"docintel/retry"
	"docintel/store"
	"docintel/types"
)

const testDim = 8

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

type stubLLM struct {
	answer string
}

func (s stubLLM) Generate(context.Context, string, string) (string, error) {
	return s.answer, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Config{
		UploadDir:        t.TempDir(),
		ChunkSize:        800,
		ChunkOverlap:     100,
		Workers:          2,
		WatchdogInterval: time.Hour,
		StaleAge:         time.Hour,
		CallTimeout:      time.Second,
		MaxContextTokens: 6000,
	}

	st := store.NewMemoryStore()
	idx := index.New(testDim)
	policy := retry.NewPolicy(1, time.Millisecond)

	pipeline := ingest.NewPipeline(st, idx, stubEmbedder{}, policy, cfg)
	require.NoError(t, pipeline.Start())
	t.Cleanup(pipeline.Stop)

	retriever := agent.NewRetriever(st, idx, stubEmbedder{}, policy, cfg.CallTimeout)
	chatAgent := agent.NewAgent(retriever, stubLLM{answer: "Apples grow on trees [1]."}, policy, cfg.CallTimeout, cfg.MaxContextTokens)

	return New(":0", st, idx, pipeline, retriever, chatAgent)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func uploadFile(t *testing.T, app *fiber.App, filename, content string) types.Document {
	t.Helper()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc types.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, types.StatusProcessing, doc.Status)
	assert.Equal(t, filename, doc.Filename)
	return doc
}

func waitForStatus(t *testing.T, app *fiber.App, docID int64, want types.DocumentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		var status types.DocumentStatusResponse
		resp := doJSON(t, app, http.MethodGet, fmt.Sprintf("/documents/%d/status", docID), nil, &status)
		return resp.StatusCode == http.StatusOK && status.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthy(t *testing.T) {
	app := newTestServer(t).App()

	var body map[string]string
	resp := doJSON(t, app, http.MethodGet, "/check/healthy", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["result"])
}

func TestUploadSearchChatDelete(t *testing.T) {
	app := newTestServer(t).App()

	doc := uploadFile(t, app, "report.txt", "apples grow on trees and ripen in autumn")
	waitForStatus(t, app, doc.ID, types.StatusCompleted)

	// Listing shows the document as completed.
	var docs []types.Document
	resp := doJSON(t, app, http.MethodGet, "/documents/", nil, &docs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, docs, 1)
	assert.Equal(t, types.StatusCompleted, docs[0].Status)

	// Search returns the matching passage.
	var results []types.SearchResult
	resp = doJSON(t, app, http.MethodPost, "/documents/search",
		fiber.Map{"query": "apples trees"}, &results)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	for _, r := range results {
		assert.Equal(t, doc.ID, r.DocumentID)
	}
	assert.Contains(t, results[0].Content, "apples grow on trees")

	// Chat cites the uploaded document.
	var answer types.ChatAnswer
	resp = doJSON(t, app, http.MethodPost, "/documents/chat",
		fiber.Map{"query": "where do apples grow"}, &answer)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, answer.Answer, "[1]")
	require.Len(t, answer.Metadata.Sources, 1)
	assert.Equal(t, doc.ID, answer.Metadata.Sources[0].DocumentID)
	assert.Equal(t, "report.txt", answer.Metadata.Sources[0].Filename)
	assert.Equal(t, 1, answer.Metadata.TotalChunksFound)

	// Delete removes the document, its vectors and its status.
	resp = doJSON(t, app, http.MethodDelete, fmt.Sprintf("/documents/%d", doc.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/documents/search",
		fiber.Map{"query": "apples trees"}, &results)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, results)

	resp = doJSON(t, app, http.MethodGet, fmt.Sprintf("/documents/%d/status", doc.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchScopedToDocument(t *testing.T) {
	app := newTestServer(t).App()

	first := uploadFile(t, app, "a.txt", "apples grow on trees")
	second := uploadFile(t, app, "b.txt", "apples grow on trees")
	waitForStatus(t, app, first.ID, types.StatusCompleted)
	waitForStatus(t, app, second.ID, types.StatusCompleted)

	var results []types.SearchResult
	resp := doJSON(t, app, http.MethodPost, "/documents/search",
		fiber.Map{"query": "apples", "document_id": second.ID}, &results)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, results, 1)
	assert.Equal(t, second.ID, results[0].DocumentID)
}

func TestFailedIngestionSurfacesInStatus(t *testing.T) {
	app := newTestServer(t).App()

	doc := uploadFile(t, app, "image.png", "\x89PNG fake binary payload")
	waitForStatus(t, app, doc.ID, types.StatusFailed)
}

func TestDocumentsScopedToOwner(t *testing.T) {
	app := newTestServer(t).App()

	doc := uploadFile(t, app, "mine.txt", "apples grow on trees")
	waitForStatus(t, app, doc.ID, types.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/documents/%d/status", doc.ID), nil)
	req.Header.Set("X-User-ID", "2")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	raw, err := json.Marshal(fiber.Map{"query": "apples"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/documents/search", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "2")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var results []types.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Empty(t, results)
}

func TestSearchValidation(t *testing.T) {
	app := newTestServer(t).App()

	// Missing query fails validation.
	var valErr struct {
		Status int               `json:"status"`
		Errors map[string]string `json:"errors"`
	}
	resp := doJSON(t, app, http.MethodPost, "/documents/search", fiber.Map{"limit": 3}, &valErr)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, valErr.Errors, "Query")

	// Malformed JSON is a plain bad request.
	req := httptest.NewRequest(http.MethodPost, "/documents/search", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	// Limit above the cap fails validation.
	resp = doJSON(t, app, http.MethodPost, "/documents/search",
		fiber.Map{"query": "x", "limit": 1000}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStatusInvalidID(t *testing.T) {
	app := newTestServer(t).App()

	resp := doJSON(t, app, http.MethodGet, "/documents/abc/status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/documents/999/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}