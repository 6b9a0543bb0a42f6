// Package config loads the rewindgraph service configuration from a YAML
// file and the environment, and builds the service logger.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Model providers. ProviderMock serves canned answers and needs no key.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config is the service configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// WorkflowsDir holds YAML workflow definitions served by name next to the
	// built-in research workflow.
	WorkflowsDir string `yaml:"workflows_dir"`

	// EventBuffer is the per-connection event queue length.
	EventBuffer int `yaml:"event_buffer" validate:"gte=1"`

	// StepTimeout bounds each research capability. Zero disables it.
	StepTimeout time.Duration `yaml:"step_timeout" validate:"gte=0"`

	// Tracing records engine events as OpenTelemetry spans.
	Tracing bool `yaml:"tracing"`

	Store  StoreConfig  `yaml:"store"`
	Model  ModelConfig  `yaml:"model"`
	GitHub GitHubConfig `yaml:"github"`
	Log    LogConfig    `yaml:"log"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=memory sqlite mysql postgres badger"`

	// DSN is the MySQL or Postgres data source name.
	DSN string `yaml:"dsn" validate:"required_if=Driver mysql,required_if=Driver postgres"`

	// Path is the SQLite file or the badger directory.
	Path string `yaml:"path" validate:"required_if=Driver sqlite,required_if=Driver badger"`
}

// ModelConfig selects the chat model behind the research capabilities.
// An empty provider picks the first one with a key, in the order OpenAI,
// Anthropic, Google, falling back to the mock.
type ModelConfig struct {
	Provider string `yaml:"provider" validate:"required,oneof=mock openai anthropic google"`

	// Name overrides the provider's default model.
	Name string `yaml:"name"`

	OpenAIKey    string `yaml:"openai_api_key" validate:"required_if=Provider openai"`
	AnthropicKey string `yaml:"anthropic_api_key" validate:"required_if=Provider anthropic"`
	GoogleKey    string `yaml:"google_api_key" validate:"required_if=Provider google"`

	// TrackCost records token usage and estimated spend per call.
	TrackCost bool `yaml:"track_cost"`
}

// GitHubConfig configures the code search capability.
type GitHubConfig struct {
	Token     string `yaml:"token"`
	SearchURL string `yaml:"search_url" validate:"omitempty,url"`
}

// LogConfig configures NewLogger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:        ":8080",
		EventBuffer: 256,
		StepTimeout: 2 * time.Minute,
		Store:       StoreConfig{Driver: StoreMemory},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
//
// Environment overrides:
//
//	REWINDGRAPH_ADDR    addr
//	REWINDGRAPH_STORE   store.driver
//	DATABASE_URL        store.dsn
//	OPENAI_API_KEY      model.openai_api_key
//	ANTHROPIC_API_KEY   model.anthropic_api_key
//	GOOGLE_API_KEY      model.google_api_key
//	GITHUB_TOKEN        github.token
//	LOG_LEVEL           log.level
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.resolveProvider()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("REWINDGRAPH_ADDR", &c.Addr)
	set("REWINDGRAPH_STORE", &c.Store.Driver)
	set("DATABASE_URL", &c.Store.DSN)
	set("OPENAI_API_KEY", &c.Model.OpenAIKey)
	set("ANTHROPIC_API_KEY", &c.Model.AnthropicKey)
	set("GOOGLE_API_KEY", &c.Model.GoogleKey)
	set("GITHUB_TOKEN", &c.GitHub.Token)
	set("LOG_LEVEL", &c.Log.Level)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

func (c *Config) resolveProvider() {
	if c.Model.Provider != "" {
		return
	}
	switch {
	case c.Model.OpenAIKey != "":
		c.Model.Provider = ProviderOpenAI
	case c.Model.AnthropicKey != "":
		c.Model.Provider = ProviderAnthropic
	case c.Model.GoogleKey != "":
		c.Model.Provider = ProviderGoogle
	default:
		c.Model.Provider = ProviderMock
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration. Errors name fields by their YAML path.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
