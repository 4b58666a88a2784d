// Package config loads and validates graphwriter configuration.
//
// A file only needs the settings it changes: Load starts from Default and
// decodes the YAML on top. Durations are Go duration strings ("250ms").
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/queue"
)

//go:embed schema.cue
var schemaCUE string

// Server and graph defaults.
const (
	DefaultAddr      = ":8765"
	DefaultBodyLimit = 1 << 20
	DefaultGraphPath = "graphwriter.db"
	DefaultModelRef  = "default"
)

// Config is the complete runtime configuration.
type Config struct {
	Processor   queue.Config       `yaml:"processor"`
	Idempotency idempotency.Config `yaml:"idempotency"`
	Server      ServerConfig       `yaml:"server"`
	Graph       GraphConfig        `yaml:"graph"`
	Log         LogConfig          `yaml:"log"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BodyLimit is the maximum request body size in bytes.
	BodyLimit int64 `yaml:"body_limit"`
}

// GraphConfig locates the graph database and the model the processor
// applies batches to.
type GraphConfig struct {
	Path     string `yaml:"path"`
	ModelRef string `yaml:"model_ref"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Processor:   queue.DefaultConfig(),
		Idempotency: idempotency.DefaultConfig(),
		Server:      ServerConfig{Addr: DefaultAddr, BodyLimit: DefaultBodyLimit},
		Graph:       GraphConfig{Path: DefaultGraphPath, ModelRef: DefaultModelRef},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown fields are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError lists every constraint the configuration violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.document()))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := strings.TrimPrefix(strings.Join(e.Path(), "."), "#Config.")
		verr.Problems = append(verr.Problems, path+": "+fmt.Sprintf(format, args...))
	}
	return verr
}

// document renders c with the YAML field names and durations as
// nanoseconds.
func (c Config) document() map[string]any {
	p, i := c.Processor, c.Idempotency
	return map[string]any{
		"processor": map[string]any{
			"interval":                 int64(p.ProcessorInterval),
			"max_operations_per_cycle": p.MaxOperationsPerCycle,
			"cleanup_every_cycles":     p.CleanupEveryCycles,
			"max_operation_age":        int64(p.MaxOperationAge),
			"processing_timeout":       int64(p.ProcessingTimeout),
			"settle_delay":             int64(p.SettleDelay),
		},
		"idempotency": map[string]any{
			"enabled":          i.Enabled,
			"ttl":              int64(i.TTL),
			"max_records":      i.MaxRecords,
			"cleanup_interval": int64(i.CleanupInterval),
		},
		"server": map[string]any{
			"addr":       c.Server.Addr,
			"body_limit": c.Server.BodyLimit,
		},
		"graph": map[string]any{
			"path":      c.Graph.Path,
			"model_ref": c.Graph.ModelRef,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
