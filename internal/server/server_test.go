package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/app/apptest"
	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/db/models"
	"github.com/cozy-creator/captioner/internal/services/generation"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/cozy-creator/captioner/internal/utils/hashutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const testAPIKey = "cap_static_test_key"

func newTestServer(t *testing.T, cfg *config.Config, gen *apptest.Generator, processor bool) (*Server, *app.App) {
	t.Helper()

	if cfg == nil {
		cfg = apptest.Config(t)
		cfg.Server.APIKey = testAPIKey
	}
	a := apptest.NewApp(t, cfg, gen)

	s, err := NewServer(cfg)
	require.NoError(t, err)
	s.SetupRoutes(a)

	if processor {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			generation.RunProcessor(ctx, a)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	return s, a
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, *types.JobHandle) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var handle types.JobHandle
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	}
	return rec, &handle
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "ok"}, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fake", body["backend"])
	assert.Equal(t, config.DefaultModelID, body["model"])
}

func TestRunAndStatus(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "An answer."}, true)

	rec, handle := do(t, s, http.MethodPost, "/run", map[string]any{"input": map[string]any{"text": "What is a fever?"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusInQueue, handle.Status)
	require.NotEmpty(t, handle.ID)

	var final *types.JobHandle
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		if _, final = do(t, s, http.MethodGet, "/status/"+handle.ID, nil); final.Status.IsTerminal() {
			break
		}
	}

	assert.Equal(t, types.StatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "An answer.", final.Output.Response)
	assert.Equal(t, types.InputTypeText, final.Output.InputType)
}

func TestRunSync(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "Caption\ntext"}, true)

	rec, handle := do(t, s, http.MethodPost, "/runsync", map[string]any{"input": map[string]any{"text": "q"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusCompleted, handle.Status)
	require.NotNil(t, handle.Output)
	assert.Equal(t, "Caption text", handle.Output.Response)
}

func TestRunSyncValidationError(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "x"}, true)

	rec, handle := do(t, s, http.MethodPost, "/runsync", map[string]any{"input": map[string]any{"text": "   "}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusFailed, handle.Status)
	assert.Equal(t, "Invalid text input. Please provide a non-empty string.", handle.Error)
}

func TestRunSyncMalformedFieldsFailTheJob(t *testing.T) {
	gen := &apptest.Generator{Reply: "x"}
	s, _ := newTestServer(t, nil, gen, true)

	cases := []struct {
		input   map[string]any
		message string
	}{
		{map[string]any{"text": "q", "max_new_tokens": "abc"}, "Invalid max_new_tokens. Please provide a positive integer."},
		{map[string]any{"text": "q", "max_new_tokens": 12.5}, "Invalid max_new_tokens. Please provide a positive integer."},
		{map[string]any{"text": "q", "prompt": 5}, "Invalid prompt. Please provide a string."},
	}

	for _, tc := range cases {
		rec, handle := do(t, s, http.MethodPost, "/runsync", map[string]any{"input": tc.input})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, types.StatusFailed, handle.Status)
		assert.Equal(t, tc.message, handle.Error)
	}
	assert.Zero(t, gen.Calls())
}

func TestRunSyncTimeoutReturnsCurrentHandle(t *testing.T) {
	cfg := apptest.Config(t)
	cfg.Server.APIKey = testAPIKey
	cfg.Server.RunSyncTimeout = 100 * time.Millisecond
	s, _ := newTestServer(t, cfg, &apptest.Generator{Reply: "x"}, false)

	rec, handle := do(t, s, http.MethodPost, "/runsync", map[string]any{"input": map[string]any{"text": "q"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusInQueue, handle.Status)
}

func TestRunMsgpack(t *testing.T) {
	s, a := newTestServer(t, nil, &apptest.Generator{Reply: "x"}, false)

	body, err := msgpack.Marshal(map[string]any{"input": map[string]any{"text": "q", "max_new_tokens": 12}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var handle types.JobHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))

	job, err := a.JobRepository.GetByID(context.Background(), handle.ID)
	require.NoError(t, err)

	var input types.JobInput
	require.NoError(t, json.Unmarshal(job.Input, &input))
	assert.JSONEq(t, `"q"`, string(input.Text))
	assert.JSONEq(t, `12`, string(input.MaxNewTokens))
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "x"}, false)

	rec, _ := do(t, s, http.MethodGet, "/status/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/status/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/run", bytes.NewBufferString("text"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	cfg := apptest.Config(t)
	cfg.Server.APIKey = testAPIKey
	cfg.Server.MaxBodyBytes = 64
	s, _ := newTestServer(t, cfg, &apptest.Generator{Reply: "x"}, false)

	long := map[string]any{"input": map[string]any{"text": strings.Repeat("q", 256)}}
	rec, _ := do(t, s, http.MethodPost, "/run", long)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	body, err := msgpack.Marshal(long)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("X-API-Key", testAPIKey)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/run", map[string]any{"input": map[string]any{"text": "q"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueFull(t *testing.T) {
	cfg := apptest.Config(t)
	cfg.Server.APIKey = testAPIKey
	cfg.Queue.Size = 1
	s, _ := newTestServer(t, cfg, &apptest.Generator{Reply: "x"}, false)

	body := map[string]any{"input": map[string]any{"text": "q"}}
	rec, _ := do(t, s, http.MethodPost, "/run", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/run", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancel(t *testing.T) {
	s, _ := newTestServer(t, nil, &apptest.Generator{Reply: "x"}, false)

	_, handle := do(t, s, http.MethodPost, "/run", map[string]any{"input": map[string]any{"text": "q"}})
	rec, cancelled := do(t, s, http.MethodPost, "/cancel/"+handle.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)
}

func TestAuthentication(t *testing.T) {
	s, a := newTestServer(t, nil, &apptest.Generator{Reply: "x"}, false)

	stored := "cap_stored_key"
	_, err := a.APIKeyRepository.Create(context.Background(), models.NewAPIKey(hashutil.Sha3256Hash([]byte(stored)), "cap_...key"))
	require.NoError(t, err)

	revoked := "cap_revoked_key"
	revokedHash := hashutil.Sha3256Hash([]byte(revoked))
	_, err = a.APIKeyRepository.Create(context.Background(), models.NewAPIKey(revokedHash, "cap_...key"))
	require.NoError(t, err)
	_, err = a.APIKeyRepository.RevokeAPIKeyWithHash(context.Background(), revokedHash)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"static bearer", "Authorization", "Bearer " + testAPIKey, http.StatusNotFound},
		{"static x-api-key", "X-API-Key", testAPIKey, http.StatusNotFound},
		{"stored key", "Authorization", "Bearer " + stored, http.StatusNotFound},
		{"revoked key", "X-API-Key", revoked, http.StatusUnauthorized},
		{"unknown key", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic " + testAPIKey, http.StatusUnauthorized},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status/"+uuid.NewString(), nil)
			if c.header != "" {
				req.Header.Set(c.header, c.value)
			}

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, c.code, rec.Code)
		})
	}
}

func TestDisableAuth(t *testing.T) {
	cfg := apptest.Config(t)
	cfg.Server.DisableAuth = true
	s, _ := newTestServer(t, cfg, &apptest.Generator{Reply: "x"}, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
