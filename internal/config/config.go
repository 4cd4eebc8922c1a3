// Package config loads layered configuration for the engine:
// built-in defaults, then the config file, then OPSLOOM_-prefixed
// environment variables, then a per-checkout local.toml override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config wraps a *viper.Viper instance. There is no package-level
// singleton; callers construct and pass this explicitly.
type Config struct {
	v     *viper.Viper
	local map[string]bool // keys set by the per-repo local.toml override
}

// Load builds a Config by layering, highest precedence first: the
// per-checkout local.toml override (see applyLocalOverrides), explicit
// environment variables (prefix OPSLOOM_), a config file located by
// searching upward from cwd for .opsloom/config.yaml then
// ~/.config/opsloom/config.yaml, and finally built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path, ok := findConfigFile(); ok {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("OPSLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	c := &Config{v: v, local: map[string]bool{}}
	if err := c.applyLocalOverrides(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyLocalOverrides layers .opsloom/local.toml (searched upward from
// cwd, like the config file) on top of everything else: a structured,
// per-checkout override file that never gets committed, in TOML so it
// cannot be confused with the shared YAML config.
func (c *Config) applyLocalOverrides() error {
	path, ok := findLocalOverrideFile()
	if !ok {
		return nil
	}
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	for key, value := range flattenKeys("", raw) {
		c.v.Set(key, value)
		c.local[key] = true
	}
	return nil
}

func findLocalOverrideFile() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		p := filepath.Join(dir, ".opsloom", "local.toml")
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func flattenKeys(prefix string, in map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flattenKeys(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// ValueSource reports where a key's effective value came from, used by
// diagnostics output.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "env"
	SourceLocal   ValueSource = "local"
)

// GetValueSource reports the layer that decided key's effective value.
func (c *Config) GetValueSource(key string) ValueSource {
	if c.local[key] {
		return SourceLocal
	}
	envKey := "OPSLOOM_" + strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
	if _, ok := os.LookupEnv(envKey); ok {
		return SourceEnv
	}
	if c.v.InConfig(key) {
		return SourceFile
	}
	return SourceDefault
}

func findConfigFile() (string, bool) {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			p := filepath.Join(dir, ".opsloom", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "opsloom", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", ".opsloom/opsloom.db")
	v.SetDefault("actor", "")

	v.SetDefault("hierarchy.max-depth", 3)
	v.SetDefault("id.min-length", 3)
	v.SetDefault("id.max-length", 8)

	v.SetDefault("scheduler.default-priority", 3)
	v.SetDefault("scheduler.assignee-required", false)

	v.SetDefault("session.max-history", 20)
	v.SetDefault("session.liveness-interval", "5s")
	v.SetDefault("session.resume-timeout", "30s")

	v.SetDefault("workflow.gc-interval", "1h")

	v.SetDefault("export.conflict-strategy", "skip")

	v.SetDefault("log.dir", ".opsloom/logs")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 5)
	v.SetDefault("log.max-age-days", 30)
}

func (c *Config) GetString(key string) string         { return c.v.GetString(key) }
func (c *Config) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *Config) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *Config) Set(key string, value interface{})    { c.v.Set(key, value) }
func (c *Config) AllSettings() map[string]interface{}  { return c.v.AllSettings() }
func (c *Config) ConfigFileUsed() string               { return c.v.ConfigFileUsed() }
