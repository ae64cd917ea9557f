package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/mq"
	"github.com/cozy-creator/captioner/internal/services/generation"
	"github.com/cozy-creator/captioner/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// RunHandler queues a job and returns its handle immediately.
func RunHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	request, ok := bindRequest(c, app.Config().Server.MaxBodyBytes)
	if !ok {
		return
	}

	handle, err := generation.NewRequest(c.Request.Context(), app, request)
	if err != nil {
		writeError(c, app, err)
		return
	}

	c.JSON(http.StatusOK, handle)
}

// RunSyncHandler queues a job and waits for it, up to the runsync timeout.
func RunSyncHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	request, ok := bindRequest(c, app.Config().Server.MaxBodyBytes)
	if !ok {
		return
	}

	handle, err := generation.NewRequest(c.Request.Context(), app, request)
	if err != nil {
		writeError(c, app, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), app.Config().Server.RunSyncTimeout)
	defer cancel()

	handle, err = generation.WaitForJob(ctx, app, handle.ID, generation.DefaultWaitInterval)
	if err != nil {
		writeError(c, app, err)
		return
	}

	c.JSON(http.StatusOK, handle)
}

func StatusHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	handle, err := generation.GetJob(c.Request.Context(), app, c.Param("id"))
	if err != nil {
		writeError(c, app, err)
		return
	}

	c.JSON(http.StatusOK, handle)
}

func CancelHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	handle, err := generation.CancelJob(c.Request.Context(), app, c.Param("id"))
	if err != nil {
		writeError(c, app, err)
		return
	}

	c.JSON(http.StatusOK, handle)
}

// bindRequest decodes a JSON or msgpack job request. Msgpack bodies are
// normalised through JSON so the input fields keep their raw JSON form.
func bindRequest(c *gin.Context, maxBytes int64) (*types.JobRequest, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	contentType := c.ContentType()
	if contentType == "" {
		contentType = binding.MIMEJSON
	}

	var request types.JobRequest
	switch contentType {
	case binding.MIMEMSGPACK, binding.MIMEMSGPACK2:
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			bodyError(c, err, "failed to read request body")
			return nil, false
		}

		var decoded map[string]any
		if err := msgpack.Unmarshal(body, &decoded); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse msgpack request body"})
			return nil, false
		}

		data, err := json.Marshal(decoded)
		if err == nil {
			err = json.Unmarshal(data, &request)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse msgpack request body"})
			return nil, false
		}
	case binding.MIMEJSON:
		if err := c.ShouldBindWith(&request, binding.JSON); err != nil {
			bodyError(c, err, "failed to parse json request body")
			return nil, false
		}
	default:
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"message": "unsupported content type: " + contentType})
		return nil, false
	}

	return &request, true
}

func bodyError(c *gin.Context, err error, message string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{"message": message})
}

func writeError(c *gin.Context, app *app.App, err error) {
	switch {
	case errors.Is(err, generation.ErrInvalidJobID):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, generation.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, generation.ErrJobExists):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, mq.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "job queue is full, retry later"})
	default:
		app.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}
