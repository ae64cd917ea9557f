package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cozy-creator/captioner/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

const (
	BackendOpenAI = "openai"
	BackendTCP    = "tcp"
)

const (
	ModeImage = "image"
	ModeText  = "text"
	ModeBoth  = "both"
)

type Config struct {
	Environment string        `mapstructure:"environment"`
	HFToken     string        `mapstructure:"hf_token"`
	Server      *ServerConfig `mapstructure:"server"`
	Model       *ModelConfig  `mapstructure:"model"`
	DB          *DBConfig     `mapstructure:"db"`
	Queue       *QueueConfig  `mapstructure:"queue"`
	Pulsar      *PulsarConfig `mapstructure:"pulsar"`
	Client      *ClientConfig `mapstructure:"client"`
	S3          *S3Config     `mapstructure:"s3"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	DisableAuth    bool          `mapstructure:"disable_auth"`
	RunSyncTimeout time.Duration `mapstructure:"runsync_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

type ModelConfig struct {
	Backend        string        `mapstructure:"backend"`
	ID             string        `mapstructure:"id"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	TCPAddress     string        `mapstructure:"tcp_address"`
	TCPTimeout     time.Duration `mapstructure:"tcp_timeout"`
	CaptionPrompt  string        `mapstructure:"caption_prompt"`
	TextPrompt     string        `mapstructure:"text_prompt"`
	MaxNewTokens   int           `mapstructure:"max_new_tokens"`
	MaxImageSide   int           `mapstructure:"max_image_side"`
	MaxImageBytes  int64         `mapstructure:"max_image_bytes"`
	AllowFilePaths bool          `mapstructure:"allow_file_paths"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type QueueConfig struct {
	Size int `mapstructure:"size"`
}

type PulsarConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

type ClientConfig struct {
	EndpointID      string        `mapstructure:"endpoint_id"`
	EndpointURL     string        `mapstructure:"endpoint_url"`
	APIKey          string        `mapstructure:"api_key"`
	Concurrent      int           `mapstructure:"concurrent"`
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ImageFolder     string        `mapstructure:"image_folder"`
	TextFile        string        `mapstructure:"text_file"`
	Mode            string        `mapstructure:"mode"`
	Sync            bool          `mapstructure:"sync"`
	OutputDir       string        `mapstructure:"output_dir"`
	Storage         string        `mapstructure:"storage"`
	NoProgress      bool          `mapstructure:"no_progress"`
}

type S3Config struct {
	Folder      string `mapstructure:"folder"`
	Region      string `mapstructure:"region_name"`
	Bucket      string `mapstructure:"bucket_name"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	EndpointURL string `mapstructure:"endpoint_url"`
}

// LoadEnvAndConfigFiles reads the optional dotenv and yaml files named by the
// env_file and config_file keys into the global viper instance.
func LoadEnvAndConfigFiles() error {
	if envFile := viper.GetString("env_file"); envFile != "" {
		envFile, err := pathutil.ExpandPath(envFile)
		if err != nil {
			return fmt.Errorf("failed to expand env file path: %w", err)
		}

		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	configFile := viper.GetString("config_file")
	if configFile == "" {
		return nil
	}

	configFile, err := pathutil.ExpandPath(configFile)
	if err != nil {
		return fmt.Errorf("failed to expand config file path: %w", err)
	}

	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			fmt.Println("No config file found. Using default config.")
			return nil
		}
		return fmt.Errorf("error reading config: %w", err)
	}

	return nil
}

// BindEnvs binds every config key to its CAPTIONER_ variable and, where the
// key predates the prefix, to the bare legacy name as a fallback.
func BindEnvs(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`, `-`, `_`))
	v.AutomaticEnv()

	for _, key := range envKeys {
		v.BindEnv(key)
	}

	for key, legacy := range legacyEnvs {
		v.BindEnv(key, envName(key), legacy)
	}
}

// LoadConfig unmarshals the viper state into a Config and fills defaults.
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetConfig loads the config from the global viper instance.
func GetConfig() (*Config, error) {
	return LoadConfig(viper.GetViper())
}

func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendOpenAI, BackendTCP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Model.Backend)
	}

	if c.Model.MaxNewTokens <= 0 {
		return ErrInvalidMaxNewTokens
	}

	switch c.Client.Mode {
	case ModeImage, ModeText, ModeBoth:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Client.Mode)
	}

	switch strings.ToLower(c.Client.Storage) {
	case StorageLocal, StorageS3:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, c.Client.Storage)
	}

	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Client.Concurrent <= 0 {
		c.Client.Concurrent = 1
	}

	return nil
}

// ResolveEndpointURL resolves the base URL the batch client talks to.
func (c *ClientConfig) ResolveEndpointURL() (string, error) {
	if c.EndpointURL != "" {
		return strings.TrimSuffix(c.EndpointURL, "/"), nil
	}

	if c.EndpointID == "" {
		return "", ErrEndpointNotSet
	}

	return fmt.Sprintf("%s/%s", DefaultEndpointBase, c.EndpointID), nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(`.`, `_`, `-`, `_`).Replace(key))
}

// secondsToDurationHook accepts bare integers ("2") as seconds, which is how
// POLLING_INTERVAL has always been set.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch value := data.(type) {
		case string:
			if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				return time.Duration(seconds) * time.Second, nil
			}
		case int:
			return time.Duration(value) * time.Second, nil
		}

		return data, nil
	}
}
