// Package config loads the server configuration from a file and the
// environment. Every key has a default so the binary runs with no config
// file at all; environment variables use the WEFT_ prefix with dots
// replaced by underscores (WEFT_SERVER_LISTEN, WEFT_STORAGE_PATH, ...).
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/weft-io/weft/internal/domain"
)

type Config struct {
	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine struct {
		MaxOperations     int           `mapstructure:"max_operations"`
		MaxLoopIterations int           `mapstructure:"max_loop_iterations"`
		MaxLoopDepth      int           `mapstructure:"max_loop_depth"`
		MaxParallelism    int           `mapstructure:"max_parallelism"`
		ExecutionTimeout  time.Duration `mapstructure:"execution_timeout"`
		ExpressionTimeout time.Duration `mapstructure:"expression_timeout"`
		MaxDelay          time.Duration `mapstructure:"max_delay"`
		ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	} `mapstructure:"engine"`
	Scheduler struct {
		CheckInterval time.Duration `mapstructure:"check_interval"`
		GracePeriod   time.Duration `mapstructure:"grace_period"`
		DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	} `mapstructure:"scheduler"`
	Validator struct {
		MaxNodes int `mapstructure:"max_nodes"`
		MaxDepth int `mapstructure:"max_depth"`
	} `mapstructure:"validator"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads the configuration, optionally from an explicit file path.
// A missing config file is not an error; everything falls back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("weft")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/weft")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("weft")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	engine := domain.DefaultEngineConfig()
	sched := domain.DefaultSchedulerConfig()
	limits := domain.DefaultValidatorLimits()

	v.SetDefault("server.listen", ":8470")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engine.max_operations", engine.MaxOperations)
	v.SetDefault("engine.max_loop_iterations", engine.MaxLoopIterations)
	v.SetDefault("engine.max_loop_depth", engine.MaxLoopDepth)
	v.SetDefault("engine.max_parallelism", engine.MaxParallelism)
	v.SetDefault("engine.execution_timeout", engine.ExecutionTimeout)
	v.SetDefault("engine.expression_timeout", engine.ExpressionTimeout)
	v.SetDefault("engine.max_delay", engine.MaxDelay)
	v.SetDefault("engine.action_timeout", engine.DefaultActionTimeout)

	v.SetDefault("scheduler.check_interval", sched.CheckInterval)
	v.SetDefault("scheduler.grace_period", sched.GracePeriod)
	v.SetDefault("scheduler.drain_timeout", sched.DrainTimeout)

	v.SetDefault("validator.max_nodes", limits.MaxNodes)
	v.SetDefault("validator.max_depth", limits.MaxDepth)

	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// EngineConfig maps the loaded values onto the engine's limit set.
func (c *Config) EngineConfig() domain.EngineConfig {
	cfg := domain.DefaultEngineConfig()
	cfg.MaxOperations = c.Engine.MaxOperations
	cfg.MaxLoopIterations = c.Engine.MaxLoopIterations
	cfg.MaxLoopDepth = c.Engine.MaxLoopDepth
	cfg.MaxParallelism = c.Engine.MaxParallelism
	cfg.ExecutionTimeout = c.Engine.ExecutionTimeout
	cfg.ExpressionTimeout = c.Engine.ExpressionTimeout
	cfg.MaxDelay = c.Engine.MaxDelay
	cfg.DefaultActionTimeout = c.Engine.ActionTimeout
	return cfg
}

func (c *Config) SchedulerConfig() domain.SchedulerConfig {
	return domain.SchedulerConfig{
		CheckInterval: c.Scheduler.CheckInterval,
		GracePeriod:   c.Scheduler.GracePeriod,
		DrainTimeout:  c.Scheduler.DrainTimeout,
	}
}

func (c *Config) ValidatorLimits() domain.ValidatorLimits {
	limits := domain.DefaultValidatorLimits()
	limits.MaxNodes = c.Validator.MaxNodes
	limits.MaxDepth = c.Validator.MaxDepth
	return limits
}
