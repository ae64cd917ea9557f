package model

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	mu       sync.Mutex
	loaded   map[string]bool
	commands []ModelRequest
	prompts  []GenerateRequest
}

func (w *fakeWorker) handle(line string) any {
	w.mu.Lock()
	defer w.mu.Unlock()

	if strings.HasPrefix(line, commandHeader) {
		var req ModelRequest
		json.Unmarshal([]byte(strings.TrimPrefix(line, commandHeader)), &req)
		w.commands = append(w.commands, req)

		switch req.Command {
		case CheckModel:
			if w.loaded[req.ModelID] {
				return ModelResponse{Success: true, Location: GPU}
			}
			return ModelResponse{Success: true, Location: None}
		case LoadModel:
			w.loaded[req.ModelID] = true
			return ModelResponse{Success: true, Message: "loaded"}
		default:
			return ModelResponse{Success: false, Error: "unsupported"}
		}
	}

	var req GenerateRequest
	json.Unmarshal([]byte(line), &req)
	w.prompts = append(w.prompts, req)
	if req.Prompt == "" {
		return GenerateResponse{Success: false, Error: "empty prompt"}
	}
	return GenerateResponse{Success: true, Text: "answer to " + req.Prompt}
}

func startFakeWorker(t *testing.T) (*fakeWorker, string) {
	t.Helper()

	worker := &fakeWorker{loaded: map[string]bool{}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					body, _ := json.Marshal(worker.handle(strings.TrimSuffix(line, "\n")))
					header := make([]byte, 4)
					binary.BigEndian.PutUint32(header, uint32(len(body)))
					conn.Write(append(header, body...))
				}
			}(conn)
		}
	}()

	return worker, ln.Addr().String()
}

func TestTCPGeneratorLoadAndGenerate(t *testing.T) {
	worker, addr := startFakeWorker(t)

	g, err := NewTCPGenerator(&config.ModelConfig{ID: "google/medgemma-4b-it", TCPAddress: addr, TCPTimeout: time.Second}, "hf_secret", zap.NewNop())
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	require.NoError(t, g.Load(ctx))
	require.NoError(t, g.Load(ctx))

	worker.mu.Lock()
	var loads []ModelRequest
	for _, cmd := range worker.commands {
		if cmd.Command == LoadModel {
			loads = append(loads, cmd)
		}
	}
	worker.mu.Unlock()
	require.Len(t, loads, 1)
	assert.Equal(t, "hf_secret", loads[0].HFToken)

	text, err := g.Generate(ctx, &Prompt{Text: "caption", Image: []byte{1, 2, 3}, MaxNewTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, "answer to caption", text)

	worker.mu.Lock()
	defer worker.mu.Unlock()
	require.Len(t, worker.prompts, 1)
	assert.Equal(t, "AQID", worker.prompts[0].Image)
	assert.Equal(t, 16, worker.prompts[0].MaxNewTokens)
	assert.False(t, worker.prompts[0].DoSample)
}

func TestTCPGeneratorWorkerError(t *testing.T) {
	_, addr := startFakeWorker(t)

	g, err := NewTCPGenerator(&config.ModelConfig{ID: "m", TCPAddress: addr, TCPTimeout: time.Second}, "", zap.NewNop())
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Generate(context.Background(), &Prompt{MaxNewTokens: 1})
	assert.ErrorContains(t, err, "empty prompt")

	assert.ErrorContains(t, g.UnloadModel(context.Background(), "m"), "unsupported")
}
