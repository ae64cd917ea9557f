package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.RunSyncTimeout)
	assert.Equal(t, DefaultMaxBodyBytes, cfg.Server.MaxBodyBytes)
	assert.Equal(t, DefaultModelID, cfg.Model.ID)
	assert.Equal(t, DefaultMaxNewTokens, cfg.Model.MaxNewTokens)
	assert.Equal(t, 5, cfg.Client.Concurrent)
	assert.Equal(t, 2*time.Second, cfg.Client.PollingInterval)
	assert.Equal(t, ModeImage, cfg.Client.Mode)
}

func TestLegacyEnvNames(t *testing.T) {
	t.Setenv("RUNPOD_API_KEY", "rp-key")
	t.Setenv("RUNPOD_ENDPOINT_ID", "abc123")
	t.Setenv("MAX_CONCURRENT", "7")
	t.Setenv("POLLING_INTERVAL", "3")
	t.Setenv("MODEL_ID", "org/other-model")
	t.Setenv("CAPTIONER_CLIENT_MODE", "text")

	v := viper.New()
	BindEnvs(v)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "rp-key", cfg.Client.APIKey)
	assert.Equal(t, 7, cfg.Client.Concurrent)
	assert.Equal(t, 3*time.Second, cfg.Client.PollingInterval)
	assert.Equal(t, "org/other-model", cfg.Model.ID)
	assert.Equal(t, ModeText, cfg.Client.Mode)

	url, err := cfg.Client.ResolveEndpointURL()
	require.NoError(t, err)
	assert.Equal(t, "https://api.runpod.ai/v2/abc123", url)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "7")
	t.Setenv("CAPTIONER_CLIENT_CONCURRENT", "2")
	t.Setenv("CAPTIONER_CLIENT_POLLING_INTERVAL", "750ms")

	v := viper.New()
	BindEnvs(v)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Client.Concurrent)
	assert.Equal(t, 750*time.Millisecond, cfg.Client.PollingInterval)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  any
		err  error
	}{
		{"unknown backend", "model.backend", "onnx", ErrUnknownBackend},
		{"non positive tokens", "model.max_new_tokens", 0, ErrInvalidMaxNewTokens},
		{"unknown mode", "client.mode", "video", ErrUnknownMode},
		{"unknown storage", "client.storage", "ftp", ErrUnknownStorage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tc.key, tc.val)

			_, err := LoadConfig(v)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestConcurrencyFloor(t *testing.T) {
	v := viper.New()
	v.Set("client.concurrent", 0)

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Client.Concurrent)
}

func TestResolveEndpointURL(t *testing.T) {
	c := &ClientConfig{EndpointURL: "http://localhost:8000/", EndpointID: "ignored"}
	url, err := c.ResolveEndpointURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", url)

	_, err = (&ClientConfig{}).ResolveEndpointURL()
	assert.ErrorIs(t, err, ErrEndpointNotSet)
}
