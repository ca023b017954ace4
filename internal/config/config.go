// Package config loads and writes the synthtext configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/registry"
)

const (
	// AppName names the configuration directory.
	AppName = "synthtext"
	// FileName is the default configuration file name.
	FileName = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SYNTHTEXT"
)

// Config is the loaded configuration. It is passed explicitly to every
// component that needs it.
type Config struct {
	// APIKey authenticates against the API.
	APIKey string
	// Engine is the active engine definition.
	Engine synthtext.EngineDefinition
	// BaseURL overrides the API endpoint. Empty means the default.
	BaseURL string
	// Engines are named custom engines, available to --engine lookups.
	Engines map[string]synthtext.EngineDefinition
	// Path is the file the configuration was read from, if any.
	Path string
}

// file is the on-disk shape. Engine definitions are stored in their
// text form, e.g. "gptj_6B" or "my_engine,4096".
type file struct {
	APIKey           string            `json:"api_key" yaml:"api_key"`
	EngineDefinition string            `json:"engine_definition,omitempty" yaml:"engine_definition,omitempty"`
	BaseURL          string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Engines          map[string]string `json:"engines,omitempty" yaml:"engines,omitempty"`
}

// Error is a configuration error.
type Error struct {
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "config: " + e.Message
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// FindPath returns override when set, otherwise the default location
// <user config dir>/synthtext/config.json. The file need not exist.
func FindPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", &Error{Message: "failed to locate the user configuration directory", Err: err}
	}
	return filepath.Join(dir, AppName, FileName), nil
}

// Load reads the configuration from path (or the default location) and
// applies .env files and SYNTHTEXT_* environment overrides. A missing
// file is tolerated when the API key comes from the environment.
func Load(path string) (*Config, error) {
	// Load .env files first (before Viper env binding)
	_ = godotenv.Load()

	location, err := FindPath(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(location)
	if ext := strings.TrimPrefix(filepath.Ext(location), "."); ext == "" {
		v.SetConfigType("json")
	}
	_ = v.BindEnv("api_key")
	_ = v.BindEnv("engine_definition", EnvPrefix+"_ENGINE")
	_ = v.BindEnv("base_url")

	cfg := &Config{Engines: make(map[string]synthtext.EngineDefinition)}
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Path: location, Message: "failed to parse configuration file", Err: err}
		}
	} else {
		cfg.Path = v.ConfigFileUsed()
	}

	cfg.APIKey = strings.TrimSpace(v.GetString("api_key"))
	if cfg.APIKey == "" {
		if cfg.Path == "" {
			return nil, &Error{Path: location, Message: "configuration file not found and " + EnvPrefix + "_API_KEY is not set", Err: fs.ErrNotExist}
		}
		return nil, &Error{Path: location, Message: "api_key is required"}
	}
	cfg.BaseURL = v.GetString("base_url")

	for name, text := range v.GetStringMapString("engines") {
		def, err := synthtext.ParseEngineDefinition(text)
		if err != nil {
			return nil, &Error{Path: location, Message: fmt.Sprintf("invalid engine %q", name), Err: err}
		}
		cfg.Engines[name] = def
	}

	cfg.Engine = synthtext.DefaultEngineDefinition()
	if name := strings.TrimSpace(v.GetString("engine_definition")); name != "" {
		def, err := registry.Resolve(cfg.Registry(), name)
		if err != nil {
			return nil, &Error{Path: location, Message: "invalid engine_definition", Err: err}
		}
		cfg.Engine = def
	}

	return cfg, nil
}

// Registry returns a registry with the presets and the named engines.
func (c *Config) Registry() *registry.InMemoryRegistry {
	reg := registry.NewWithPresets()
	for name, def := range c.Engines {
		reg.Register(name, def)
	}
	return reg
}

// GenerateOptions controls Generate.
type GenerateOptions struct {
	// Path is the destination; empty means the default location.
	Path string
	// APIKey is written as api_key.
	APIKey string
	// Engine is written as engine_definition. Zero means the default.
	Engine synthtext.EngineDefinition
	// Dump writes to Out instead of a file.
	Dump bool
	// Create overwrites an existing file.
	Create bool
	// Out receives the configuration when Dump is set.
	Out io.Writer
}

// Generate writes a configuration file, or dumps it to opts.Out. It
// refuses to replace an existing file unless opts.Create is set. Files
// ending in .yaml or .yml are written as YAML, everything else as JSON.
// It returns the path written to, or "" when dumping.
func Generate(opts GenerateOptions) (string, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return "", &Error{Message: "api key must not be empty"}
	}
	engine := opts.Engine
	if engine.IsZero() {
		engine = synthtext.DefaultEngineDefinition()
	}

	location, err := FindPath(opts.Path)
	if err != nil {
		return "", err
	}

	data, err := encode(location, file{APIKey: opts.APIKey, EngineDefinition: engine.String()})
	if err != nil {
		return "", &Error{Path: location, Message: "failed to encode configuration", Err: err}
	}

	if opts.Dump {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		if _, err := out.Write(data); err != nil {
			return "", &Error{Message: "failed to write configuration", Err: err}
		}
		return "", nil
	}

	if !opts.Create {
		if _, err := os.Stat(location); err == nil {
			return "", &Error{Path: location, Message: "file already exists; pass --create to overwrite", Err: fs.ErrExist}
		}
	}
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return "", &Error{Path: location, Message: "failed to create configuration directory", Err: err}
	}
	// The file holds a credential.
	if err := os.WriteFile(location, data, 0o600); err != nil {
		return "", &Error{Path: location, Message: "failed to write configuration", Err: err}
	}
	return location, nil
}

func encode(location string, f file) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".yaml", ".yml":
		return yaml.Marshal(f)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
