// Package config loads voyager.yaml from the workspace root.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"voyager/internal/plugin"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = "voyager.yaml"

var ErrInvalidConfig = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("plugintag", validatePluginTag)
}

// validatePluginTag accepts path-like tags such as "starknet::storage".
func validatePluginTag(fl validator.FieldLevel) bool {
	tag := fl.Field().String()
	if tag == "" {
		return false
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}

type Config struct {
	// Workers > 1 enables depth-staged parallel resolution; 0 means serial.
	Workers       int            `yaml:"workers" validate:"gte=0,lte=256"`
	Cache         CacheConfig    `yaml:"cache"`
	Log           LogConfig      `yaml:"log"`
	Graph         GraphConfig    `yaml:"graph"`
	Plugins       PluginsConfig  `yaml:"plugins"`
	BuiltinCrates []string       `yaml:"builtin_crates" validate:"dive,required"`
	Verifier      VerifierConfig `yaml:"verifier"`
}

type CacheConfig struct {
	// Dir is relative to the workspace root unless absolute.
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
	InMemory bool   `yaml:"in_memory"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

type GraphConfig struct {
	IncludeDev bool `yaml:"include_dev"`
}

type PluginsConfig struct {
	Builtin           []string            `yaml:"builtin" validate:"dive,oneof=storage event derive"`
	EscalateConflicts bool                `yaml:"escalate_conflicts"`
	Declarative       []DeclarativePlugin `yaml:"declarative" validate:"dive"`
}

// DeclarativePlugin is a plugin defined entirely in configuration.
type DeclarativePlugin struct {
	Tag       string   `yaml:"tag" validate:"plugintag"`
	When      string   `yaml:"when" validate:"required"`
	Generate  []string `yaml:"generate" validate:"dive,required"`
	Claims    bool     `yaml:"claims"`
	Attribute string   `yaml:"attribute"`
}

type VerifierConfig struct {
	Network      string        `yaml:"network" validate:"oneof=mainnet sepolia local custom"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Cache:         CacheConfig{Dir: filepath.Join(".voyager", "cache")},
		Log:           LogConfig{Level: "info"},
		Graph:         GraphConfig{IncludeDev: true},
		Plugins:       PluginsConfig{Builtin: []string{"storage", "event", "derive"}},
		BuiltinCrates: []string{"core", "starknet"},
		Verifier: VerifierConfig{
			Network:      "mainnet",
			MaxRetries:   10,
			PollInterval: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is only an error when
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadWorkspace loads <root>/voyager.yaml, or explicit when non-empty.
func LoadWorkspace(root, explicit string) (Config, error) {
	if explicit != "" {
		return Load(explicit, true)
	}
	return Load(filepath.Join(root, FileName), false)
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]struct{})
	for _, d := range c.Plugins.Declarative {
		if _, dup := seen[d.Tag]; dup {
			return fmt.Errorf("%w: duplicate declarative plugin tag %q", ErrInvalidConfig, d.Tag)
		}
		seen[d.Tag] = struct{}{}
	}
	return nil
}

// CacheDir resolves Cache.Dir against root.
func (c Config) CacheDir(root string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(root, c.Cache.Dir)
}

// Registry builds the plugin registry: built-ins in configured order, then
// declarative plugins.
func (c Config) Registry() (*plugin.Registry, error) {
	policy := plugin.ConflictWarn
	if c.Plugins.EscalateConflicts {
		policy = plugin.ConflictEscalate
	}
	reg := plugin.NewRegistry(plugin.WithConflictPolicy(policy))
	builtins := plugin.Builtins()
	for _, name := range c.Plugins.Builtin {
		p, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown builtin plugin %q", ErrInvalidConfig, name)
		}
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	for _, d := range c.Plugins.Declarative {
		p, err := plugin.NewDeclarative(plugin.DeclarativeConfig{
			Tag:       d.Tag,
			When:      d.When,
			Generate:  d.Generate,
			Claims:    d.Claims,
			Attribute: d.Attribute,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: plugin %s: %v", ErrInvalidConfig, d.Tag, err)
		}
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return reg, nil
}
