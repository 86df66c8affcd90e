// internal/config/config.go
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Stage batch policies.
const (
	PolicyAbort    = "abort"
	PolicyContinue = "continue"
	PolicyAtomic   = "atomic"
)

type Config struct {
	Repository struct {
		MetadataDir   string `mapstructure:"metadata_dir"`
		DefaultBranch string `mapstructure:"default_branch"`
	} `mapstructure:"repository"`

	Stage struct {
		Policy string `mapstructure:"policy"` // abort, continue, atomic
	} `mapstructure:"stage"`

	Status struct {
		Ignore     []string `mapstructure:"ignore"`
		IgnoreFile string   `mapstructure:"ignore_file"`
		Workers    int      `mapstructure:"workers"`
		StatCache  bool     `mapstructure:"stat_cache"`
	} `mapstructure:"status"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`

	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("repository.metadata_dir", ".git")
	v.SetDefault("repository.default_branch", "master")
	v.SetDefault("stage.policy", PolicyAbort)
	v.SetDefault("status.ignore", []string{})
	v.SetDefault("status.ignore_file", ".archgitignore")
	v.SetDefault("status.workers", runtime.NumCPU())
	v.SetDefault("status.stat_cache", false)
	v.SetDefault("watch.debounce", 200*time.Millisecond)
	v.SetDefault("log_level", "warn")
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from path (optional) and ARCHGIT_* environment
// variables on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARCHGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository.MetadataDir) == "" {
		return fmt.Errorf("repository.metadata_dir must not be empty")
	}
	if c.Repository.DefaultBranch == "" {
		return fmt.Errorf("repository.default_branch must not be empty")
	}
	switch c.Stage.Policy {
	case PolicyAbort, PolicyContinue, PolicyAtomic:
	default:
		return fmt.Errorf("unknown stage.policy %q", c.Stage.Policy)
	}
	if c.Status.Workers <= 0 {
		return fmt.Errorf("status.workers must be positive, got %d", c.Status.Workers)
	}
	return nil
}
