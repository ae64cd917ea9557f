package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrFileExists = errors.New("file already exists")

const configTemplate = `# captioner configuration
environment: dev

server:
  host: 0.0.0.0
  port: 8000
  # api_key: ""
  disable_auth: false
  runsync_timeout: 90s

model:
  # openai talks to an OpenAI compatible server (vLLM, TGI, ...),
  # tcp talks to a local model worker.
  backend: openai
  id: google/medgemma-4b-it
  base_url: http://localhost:8080/v1
  tcp_address: localhost:8882
  max_new_tokens: 256
  max_image_side: 0
  allow_file_paths: true

db:
  driver: sqlite
  dsn: file:./captioner.db

queue:
  size: 64

# pulsar:
#   url: pulsar://localhost:6650
#   topic: persistent://public/default/captioner-requests

client:
  endpoint_id: ""
  # endpoint_url: http://localhost:8000
  concurrent: 5
  polling_interval: 2s
  image_folder: .
  text_file: questions.txt
  mode: image
  sync: false
  output_dir: .
  storage: local

# s3:
#   endpoint_url: ""
#   region_name: auto
#   bucket_name: ""
#   folder: captions
`

const envTemplate = `RUNPOD_API_KEY=
RUNPOD_ENDPOINT_ID=
MAX_CONCURRENT=5
POLLING_INTERVAL=2
HF_TOKEN=
# CAPTIONER_SERVER_API_KEY=
# CAPTIONER_S3_ACCESS_KEY=
# CAPTIONER_S3_SECRET_KEY=
`

func GetConfigTemplate() string {
	return configTemplate
}

func GetEnvTemplate() string {
	return envTemplate
}

func WriteConfig(path string, force bool) error {
	return writeTemplate(path, configTemplate, force)
}

func WriteEnv(path string, force bool) error {
	return writeTemplate(path, envTemplate, force)
}

// WriteExampleTemplates writes config.example.yaml and .env.example into dir,
// leaving existing files alone.
func WriteExampleTemplates(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var written []string
	files := map[string]string{
		"config.example.yaml": configTemplate,
		".env.example":        envTemplate,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		err := writeTemplate(path, content, false)
		if errors.Is(err, ErrFileExists) {
			continue
		}
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	return written, nil
}

func writeTemplate(path string, content string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
