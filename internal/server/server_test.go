package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knosi-ai/knosid/internal/chunk"
	"github.com/knosi-ai/knosid/internal/config"
	"github.com/knosi-ai/knosid/internal/embed"
	kerrors "github.com/knosi-ai/knosid/internal/errors"
	"github.com/knosi-ai/knosid/internal/extract"
	"github.com/knosi-ai/knosid/internal/ingest"
	"github.com/knosi-ai/knosid/internal/progress"
	"github.com/knosi-ai/knosid/internal/retrieve"
	"github.com/knosi-ai/knosid/internal/store"
)

type stubGenerator struct {
	response string
}

func (s *stubGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return s.response, nil
}

func (s *stubGenerator) ModelName() string { return "stub-model" }

type testAPI struct {
	server *httptest.Server
	store  *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.MaxUploadMB = 1

	embedder := embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = embedder.Close() })

	st, err := store.OpenInMemory(embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chunker, err := chunk.NewChunker(200, 40)
	require.NoError(t, err)

	registry := progress.NewRegistry(time.Minute)
	t.Cleanup(registry.Close)

	coordinator := ingest.NewCoordinator(extract.NewGateway(nil), chunker, embedder, st, registry)
	generator := &stubGenerator{response: "a grounded answer"}
	engine := retrieve.NewEngine(embedder, st, generator, cfg.Chat.TopK, cfg.Chat.ContextBudget)

	srv := New(cfg, coordinator, engine, registry, st, embedder, generator)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testAPI{server: ts, store: st}
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (a *testAPI) upload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Response {
	t.Helper()

	body, contentType := multipartUpload(t, fields, filename, content)
	resp, err := http.Post(a.server.URL+"/api/upload", contentType, body)
	require.NoError(t, err)
	return resp
}

func (a *testAPI) waitIndexed(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := a.store.FindByIdentity(context.Background(), store.Identity{Path: path})
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestUpload_AcceptedAndIndexed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "notes.txt", []byte(strings.Repeat("useful notes ", 40)), nil)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		OperationID string `json:"operation_id"`
		Path        string `json:"path"`
	}
	decodeJSON(t, resp, &accepted)
	assert.NotEmpty(t, accepted.OperationID)
	assert.Equal(t, "notes.txt", accepted.Path)

	api.waitIndexed(t, "notes.txt")
}

func TestUpload_ClientSuppliedOperationID(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "notes.txt", []byte("hello world"), map[string]string{"upload_id": "op-abc"})

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		OperationID string `json:"operation_id"`
	}
	decodeJSON(t, resp, &accepted)
	assert.Equal(t, "op-abc", accepted.OperationID)
}

func TestUpload_UnsupportedTypeIs415(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "binary.exe", []byte{0x4d, 0x5a}, nil)

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, kerrors.ErrCodeUnsupportedType, body.Error.Code)
}

func TestUpload_OversizeIs413(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "big.txt", bytes.Repeat([]byte("x"), 2<<20), nil)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUpload_MissingFileIs400(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("path", "x.txt"))
	require.NoError(t, w.Close())

	resp, err := http.Post(api.server.URL+"/api/upload", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProgress_StreamsUntilTerminal(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "notes.txt", []byte(strings.Repeat("words ", 100)),
		map[string]string{"upload_id": "op-sse"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	stream, err := http.Get(api.server.URL + "/api/upload/op-sse/progress")
	require.NoError(t, err)
	defer func() { _ = stream.Body.Close() }()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Contains(t, stream.Header.Get("Content-Type"), "text/event-stream")

	var events []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			events = append(events, strings.TrimSpace(data))
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "received", events[0])
	last := events[len(events)-1]
	assert.True(t, progress.IsTerminal(last))
	// The terminal event tells the client the outcome and fragment count
	assert.Regexp(t, `^complete:created:[1-9]\d*$`, last)
}

func TestProgress_UnknownOperationIs404(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Get(api.server.URL + "/api/upload/no-such-op/progress")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocuments_ListAndDelete(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "a.txt", []byte("alpha document content"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()
	api.waitIndexed(t, "a.txt")

	list, err := http.Get(api.server.URL + "/api/documents")
	require.NoError(t, err)
	var listed struct {
		Count     int `json:"count"`
		Documents []struct {
			Path          string `json:"path"`
			FragmentCount int    `json:"fragment_count"`
		} `json:"documents"`
	}
	decodeJSON(t, list, &listed)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "a.txt", listed.Documents[0].Path)
	assert.Greater(t, listed.Documents[0].FragmentCount, 0)

	req, err := http.NewRequest(http.MethodDelete, api.server.URL+"/api/documents/a.txt", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = del.Body.Close() }()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	// Second delete finds nothing
	del2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	defer func() { _ = del2.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, del2.StatusCode)
}

func TestSearch_ReturnsResults(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "pets.txt", []byte("cats and dogs are common household pets"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()
	api.waitIndexed(t, "pets.txt")

	search, err := http.Get(api.server.URL + "/api/search?q=household+pets&limit=5")
	require.NoError(t, err)
	var found struct {
		Count   int `json:"count"`
		Results []struct {
			Path  string  `json:"path"`
			Score float32 `json:"score"`
		} `json:"results"`
	}
	decodeJSON(t, search, &found)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "pets.txt", found.Results[0].Path)
}

func TestSearch_MissingQueryIs400(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Get(api.server.URL + "/api/search")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_AnswersWithSources(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "pets.txt", []byte("cats and dogs are common household pets"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()
	api.waitIndexed(t, "pets.txt")

	payload := `{"message":"what pets are common?","include_sources":true}`
	chat, err := http.Post(api.server.URL+"/api/chat", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	var answer struct {
		Response string `json:"response"`
		Sources  []struct {
			Path string `json:"path"`
		} `json:"sources"`
	}
	decodeJSON(t, chat, &answer)
	assert.Equal(t, "a grounded answer", answer.Response)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "pets.txt", answer.Sources[0].Path)
}

func TestChat_EmptyIndexGetsCannedReply(t *testing.T) {
	api := newTestAPI(t)

	payload := `{"message":"anything there?"}`
	chat, err := http.Post(api.server.URL+"/api/chat", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	var answer struct {
		Response string `json:"response"`
	}
	decodeJSON(t, chat, &answer)
	assert.Equal(t, retrieve.NoDocumentsResponse, answer.Response)
}

func TestStatus_ReportsCounts(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "a.txt", []byte("some indexed content"), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()
	api.waitIndexed(t, "a.txt")

	status, err := http.Get(api.server.URL + "/api/status")
	require.NoError(t, err)
	var report struct {
		Status         string `json:"status"`
		Documents      int    `json:"document_count"`
		Fragments      int    `json:"fragment_count"`
		EmbeddingModel string `json:"embedding_model"`
		ChatModel      string `json:"chat_model"`
	}
	decodeJSON(t, status, &report)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 1, report.Documents)
	assert.Greater(t, report.Fragments, 0)
	assert.NotEmpty(t, report.EmbeddingModel)
	assert.Equal(t, "stub-model", report.ChatModel)
}
