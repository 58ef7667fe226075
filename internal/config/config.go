// Package config loads digestpipe configuration.
//
// Files may be YAML or CUE. Either way the content is unified with an
// embedded CUE schema that rejects unknown fields and supplies defaults,
// then environment overrides are applied.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override file values.
const (
	EnvLogPath     = "DIGESTPIPE_LOG_PATH"
	EnvStorePath   = "DIGESTPIPE_STORE_PATH"
	EnvIngestTopic = "DIGESTPIPE_INGEST_TOPIC"
	EnvResultTopic = "DIGESTPIPE_RESULT_TOPIC"
	EnvStoreTable  = "DIGESTPIPE_STORE_TABLE"
	EnvLogLevel    = "DIGESTPIPE_LOG_LEVEL"
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d as a duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete process configuration.
type Config struct {
	Log       LogConfig       `json:"log" yaml:"log"`
	Topics    TopicsConfig    `json:"topics" yaml:"topics"`
	Codec     string          `json:"codec" yaml:"codec"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Producer  ProducerConfig  `json:"producer" yaml:"producer"`
	Transform TransformConfig `json:"transform" yaml:"transform"`
	Sink      SinkConfig      `json:"sink" yaml:"sink"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// LogConfig locates the durable log.
type LogConfig struct {
	Path            string `json:"path" yaml:"path"`
	Compression     string `json:"compression" yaml:"compression"`
	MaxPayloadBytes int    `json:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// TopicsConfig names the two log topics.
type TopicsConfig struct {
	Ingest string `json:"ingest" yaml:"ingest"`
	Result string `json:"result" yaml:"result"`
}

// StoreConfig locates the store and bounds sink writes.
type StoreConfig struct {
	Path          string   `json:"path" yaml:"path"`
	InMemory      bool     `json:"in_memory" yaml:"in_memory"`
	Table         string   `json:"table" yaml:"table"`
	MaxRetries    int      `json:"max_retries" yaml:"max_retries"`
	WriteTimeout  Duration `json:"write_timeout" yaml:"write_timeout"`
	RetryInterval Duration `json:"retry_interval" yaml:"retry_interval"`
}

// ProducerConfig bounds the producer's append.
type ProducerConfig struct {
	AppendTimeout Duration `json:"append_timeout" yaml:"append_timeout"`
}

// TransformConfig configures the transform consumer.
type TransformConfig struct {
	Group         string   `json:"group" yaml:"group"`
	Algorithm     string   `json:"algorithm" yaml:"algorithm"`
	Workers       int      `json:"workers" yaml:"workers"`
	BatchSize     int      `json:"batch_size" yaml:"batch_size"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval"`
	AppendTimeout Duration `json:"append_timeout" yaml:"append_timeout"`
}

// SinkConfig configures the sink consumer.
type SinkConfig struct {
	Group        string   `json:"group" yaml:"group"`
	Workers      int      `json:"workers" yaml:"workers"`
	BatchSize    int      `json:"batch_size" yaml:"batch_size"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
}

// ServerConfig configures the HTTP producer.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
// Environment overrides are not applied.
func Default() (*Config, error) {
	return decode(nil, "defaults")
}

// Load reads the file at path (".cue" files as CUE, anything else as YAML),
// validates it, and applies environment overrides. An empty path loads the
// defaults.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = Default()
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".cue") {
			cfg, err = ParseCUE(data, path)
		} else {
			cfg, err = ParseYAML(data, path)
		}
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseYAML validates YAML content against the schema.
func ParseYAML(data []byte, name string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: invalid YAML: %w", name, err)
	}
	return decode(func(ctx *cue.Context) cue.Value {
		if raw == nil {
			return ctx.CompileString("{}")
		}
		return ctx.Encode(raw)
	}, name)
}

// ParseCUE validates CUE content against the schema.
func ParseCUE(data []byte, name string) (*Config, error) {
	return decode(func(ctx *cue.Context) cue.Value {
		return ctx.CompileBytes(data, cue.Filename(name))
	}, name)
}

func decode(build func(*cue.Context) cue.Value, name string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	configPath := cue.ParsePath("config")

	v := schema.LookupPath(configPath)
	if build != nil {
		input := build(ctx)
		if err := input.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		v = schema.FillPath(configPath, input).LookupPath(configPath)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", name, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvLogPath, &c.Log.Path},
		{EnvStorePath, &c.Store.Path},
		{EnvIngestTopic, &c.Topics.Ingest},
		{EnvResultTopic, &c.Topics.Result},
		{EnvStoreTable, &c.Store.Table},
		{EnvLogLevel, &c.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks constraints that span fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Topics.Ingest == "" || c.Topics.Result == "" {
		errs = append(errs, errors.New("topics.ingest and topics.result are required"))
	}
	if c.Topics.Ingest != "" && c.Topics.Ingest == c.Topics.Result {
		errs = append(errs, fmt.Errorf("topics.ingest and topics.result must differ (both %q)", c.Topics.Ingest))
	}
	if c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required"))
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required unless store.in_memory is set"))
	}
	if c.Log.Path == "" {
		errs = append(errs, errors.New("log.path is required"))
	}
	return errors.Join(errs...)
}
