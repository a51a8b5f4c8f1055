package hotswap

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a hotswap deployment: the
// registry, the self-healing manager, and the collaborator reference
// implementations (heartbeat, admin API).
type Config struct {
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Healing   HealingConfig   `yaml:"healing" toml:"healing"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" toml:"heartbeat"`
	Admin     AdminConfig     `yaml:"admin" toml:"admin"`
}

// AdminConfig configures the administrative HTTP surface.
type AdminConfig struct {
	// Addr is the listen address for the admin API, e.g. ":8484".
	// Empty disables the admin API.
	Addr string `yaml:"addr" toml:"addr" env:"HOTSWAP_ADMIN_ADDR"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			HotSwapEnabled:       true,
			EnforceVersionCompat: true,
			HistoryLimit:         256,
		},
		Healing: HealingConfig{
			MaxRestarts:        3,
			CheckIntervalTicks: 10,
			EventLimit:         256,
		},
		Heartbeat: HeartbeatConfig{
			Schedule: "@every 1s",
		},
	}
}

// LoadConfig reads a configuration file, YAML or TOML selected by file
// extension, over the defaults, then applies environment variable
// overrides declared by env struct tags.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse TOML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedConfigFormat, ext)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides walks the config struct and, for every field carrying
// an env tag whose variable is set, coerces the string value to the field
// type and assigns it.
func applyEnvOverrides(cfg *Config) error {
	return overrideStruct(reflect.ValueOf(cfg).Elem())
}

func overrideStruct(value reflect.Value) error {
	structType := value.Type()
	for i := 0; i < value.NumField(); i++ {
		field := value.Field(i)

		if field.Kind() == reflect.Struct {
			if err := overrideStruct(field); err != nil {
				return err
			}
			continue
		}

		envName := structType.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}

		strValue, found := os.LookupEnv(envName)
		if !found {
			continue
		}

		converted, err := cast.FromType(strValue, field.Type())
		if err != nil {
			return fmt.Errorf("env %s: cannot convert %q to %v: %w", envName, strValue, field.Type(), err)
		}
		if !field.CanSet() {
			return fmt.Errorf("env %s: %w", envName, ErrConfigFieldNotSettable)
		}
		field.Set(reflect.ValueOf(converted))
	}
	return nil
}
