package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Loader loads Config from .conductor/config.yaml overlaid with
// CONDUCTOR_-prefixed environment variables and (when bound) CLI flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string

	mu sync.Mutex
}

// NewLoader creates a loader reading defaults from the process's current
// directory's .conductor/config.yaml, unless WithConfigFile overrides it.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "CONDUCTOR"}
}

// NewLoaderWithViper wraps an existing viper instance, allowing CLI flags
// bound with viper.BindPFlag to take precedence over the file and
// environment.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "CONDUCTOR"}
}

// WithConfigFile pins an explicit config file path instead of searching
// ./.conductor/config.yaml.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance, for binding CLI flags
// before Load.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from all sources and returns a Config.
// Load does not validate — callers needing a fail-fast check should call
// Validate afterward (e.g. before driving a workflow), since an
// incomplete config (no agent bindings yet) is a legitimate state for
// inspection commands like `conductor docs`.
//
// Precedence (highest to lowest):
//  1. CLI flags (bound via viper.BindPFlag before Load is called)
//  2. Environment variables (CONDUCTOR_*)
//  3. .conductor/config.yaml
//  4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(filepath.Join(".", ".conductor"))
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine: defaults plus env/flags may be enough
			// for a CI invocation that sets everything through the
			// environment.
		} else if os.IsNotExist(err) {
			// Explicit config file path doesn't exist: same treatment.
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the config file path actually used, if any.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

// Watch installs an fsnotify-backed watch (viper.WatchConfig, which wraps
// fsnotify.Watcher directly) on the config file and calls onChange with
// the freshly reloaded, re-validated Config whenever it's written.
// Invalid edits are reported through onErr and the previous Config stays
// in effect — a running workflow should never be handed a config it
// hasn't validated.
func (l *Loader) Watch(onChange func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		l.mu.Lock()
		var cfg Config
		err := l.v.Unmarshal(&cfg)
		l.mu.Unlock()
		if err != nil {
			onErr(fmt.Errorf("reloading config: %w", err))
			return
		}
		if err := Validate(&cfg); err != nil {
			onErr(fmt.Errorf("reloaded config is invalid, keeping previous: %w", err))
			return
		}
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("store.dsn", ".conductor/state.db")

	l.v.SetDefault("budget.per_task", 0.0)
	l.v.SetDefault("budget.per_project", 0.0)
	l.v.SetDefault("budget.ledger_path", ".conductor/budget.json")

	l.v.SetDefault("concurrency", 4)
	l.v.SetDefault("iteration_cap", 50)

	l.v.SetDefault("worktree.base_dir", ".conductor/worktrees")

	l.v.SetDefault("log.level", "info")

	l.v.SetDefault("server.addr", ":8088")
}
