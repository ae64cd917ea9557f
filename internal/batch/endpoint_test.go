package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRunAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/run":
			var req types.JobRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.JSONEq(t, `"What is gout?"`, string(req.Input.Text))
			w.Write([]byte(`{"id":"job-1","status":"IN_QUEUE"}`))
		case "/status/job-1":
			w.Write([]byte(`{"id":"job-1","status":"COMPLETED","output":{"response":"Arthritis.","input_type":"text"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", time.Second)

	resp, err := client.Run(context.Background(), types.NewTextInput("What is gout?"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, types.StatusInQueue, resp.Status)

	resp, err = client.Status(context.Background(), "job-1")
	require.NoError(t, err)
	result, err := resp.Result()
	require.NoError(t, err)
	assert.Equal(t, "Arthritis.", result.Response)
}

func TestClientNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "key", time.Second).RunSync(context.Background(), types.NewTextInput("q"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Less(t, len(err.Error()), 1200)
}

func TestJobStatusResponseDecoding(t *testing.T) {
	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","status":"FAILED","output":"oops","error":{"code":1}}`), &resp))
	assert.Equal(t, `{"code":1}`, resp.ErrorMessage())

	_, err := resp.Result()
	assert.ErrorIs(t, err, ErrUnexpectedOutput)
	assert.Contains(t, err.Error(), `"oops"`)

	for _, output := range []string{``, `null`} {
		empty := JobStatusResponse{Output: json.RawMessage(output)}
		result, err := empty.Result()
		require.NoError(t, err, output)
		assert.Empty(t, result.Text())
	}
}

func TestNewClientFromConfig(t *testing.T) {
	_, err := NewClientFromConfig(&config.ClientConfig{APIKey: "k"})
	assert.ErrorIs(t, err, config.ErrEndpointNotSet)

	_, err = NewClientFromConfig(&config.ClientConfig{EndpointID: "abc"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	client, err := NewClientFromConfig(&config.ClientConfig{EndpointID: "abc", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultEndpointBase+"/abc", client.baseURL)
}
