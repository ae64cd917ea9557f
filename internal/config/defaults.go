package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CAPTIONER"

const DefaultEndpointBase = "https://api.runpod.ai/v2"

const (
	DefaultModelID = "google/medgemma-4b-it"

	DefaultCaptionPrompt = "You are a world renowned physician. Check the xray image and provide a detailed analysis, anamnesis and diagnosis. Ensure you also mention the next steps of action"
	DefaultTextPrompt    = "You are a world renowned physician. Please provide a detailed and accurate medical response to the following question:"

	DefaultMaxNewTokens = 256

	DefaultMaxBodyBytes = int64(64 << 20)
)

var (
	DefaultRequestsTopic = "captioner/requests"
	DefaultPulsarTopic   = "persistent://public/default/captioner-requests"
)

var (
	ErrUnknownBackend      = errors.New("unknown model backend")
	ErrUnknownMode         = errors.New("unknown processing mode")
	ErrUnknownStorage      = errors.New("unknown output storage")
	ErrInvalidMaxNewTokens = errors.New("max_new_tokens must be a positive integer")
	ErrEndpointNotSet      = errors.New("endpoint id or endpoint url must be set")
)

var defaults = map[string]any{
	"environment": "dev",

	"server.host":            "0.0.0.0",
	"server.port":            8000,
	"server.disable_auth":    false,
	"server.runsync_timeout": 90 * time.Second,
	"server.max_body_bytes":  DefaultMaxBodyBytes,

	"model.backend":          BackendOpenAI,
	"model.id":               DefaultModelID,
	"model.base_url":         "http://localhost:8080/v1",
	"model.tcp_address":      "localhost:8882",
	"model.tcp_timeout":      500 * time.Second,
	"model.caption_prompt":   DefaultCaptionPrompt,
	"model.text_prompt":      DefaultTextPrompt,
	"model.max_new_tokens":   DefaultMaxNewTokens,
	"model.max_image_side":   0,
	"model.max_image_bytes":  int64(20 << 20),
	"model.allow_file_paths": true,
	"model.fetch_timeout":    30 * time.Second,

	"db.driver": "sqlite",
	"db.dsn":    "file::memory:?cache=shared",
	"db.debug":  false,

	"queue.size": 64,

	"pulsar.topic": DefaultPulsarTopic,

	"client.concurrent":       5,
	"client.polling_interval": 2 * time.Second,
	"client.request_timeout":  10 * time.Minute,
	"client.image_folder":     ".",
	"client.text_file":        "questions.txt",
	"client.mode":             ModeImage,
	"client.sync":             false,
	"client.output_dir":       ".",
	"client.storage":          StorageLocal,
	"client.no_progress":      false,
}

// Keys bound to their CAPTIONER_ variables.
var envKeys = []string{
	"environment",
	"server.host", "server.port", "server.api_key", "server.disable_auth", "server.runsync_timeout",
	"server.max_body_bytes",
	"model.backend", "model.base_url", "model.api_key", "model.tcp_address", "model.tcp_timeout",
	"model.text_prompt", "model.max_image_side", "model.max_image_bytes", "model.allow_file_paths",
	"model.fetch_timeout",
	"db.driver", "db.dsn", "db.debug",
	"queue.size",
	"pulsar.url", "pulsar.topic",
	"client.endpoint_url", "client.request_timeout", "client.image_folder", "client.text_file",
	"client.mode", "client.sync", "client.output_dir", "client.storage", "client.no_progress",
	"s3.access_key", "s3.secret_key", "s3.region_name", "s3.bucket_name", "s3.folder", "s3.endpoint_url",
}

// Keys that also read the un-prefixed variable names used by existing deployments.
var legacyEnvs = map[string]string{
	"model.id":                "MODEL_ID",
	"model.caption_prompt":    "CAPTION_PROMPT",
	"model.max_new_tokens":    "MAX_NEW_TOKENS",
	"hf_token":                "HF_TOKEN",
	"client.concurrent":       "MAX_CONCURRENT",
	"client.polling_interval": "POLLING_INTERVAL",
	"client.endpoint_id":      "RUNPOD_ENDPOINT_ID",
	"client.api_key":          "RUNPOD_API_KEY",
}

func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
