package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/spf13/viper"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/acme"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
	"github.com/appayureze-cloud/aiastra/internal/domain"
	"github.com/appayureze-cloud/aiastra/internal/usecase/build"
	"github.com/appayureze-cloud/aiastra/internal/usecase/edge"
	"github.com/appayureze-cloud/aiastra/internal/usecase/supervise"
)

// Config holds the application configuration.
type Config struct {
	Server struct {
		DataDir    string `mapstructure:"data_dir"`
		StatusAddr string `mapstructure:"status_addr"` // daemon self-health endpoint, loopback only
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size"`
			MaxBackups int    `mapstructure:"max_backups"`
			MaxAge     int    `mapstructure:"max_age"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`

	// RequiredEnv lists environment variable names the service refuses to
	// start without (API keys, model paths).
	RequiredEnv []string `mapstructure:"required_env"`

	Build     build.Config     `mapstructure:"build"`
	Supervise supervise.Config `mapstructure:"supervise"`
	Edge      edge.Config      `mapstructure:"edge"`
	Acme      acme.Config      `mapstructure:"acme"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// initConfig loads configuration from file.
func initConfig(configPath string) (*viper.Viper, Config, error) {
	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return nil, Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The supervisor publishes each instance on one loopback port and the
	// edge forwards to the same port; a single knob keeps them aligned.
	if cfg.Edge.BackendPort == 0 {
		cfg.Edge.BackendPort = cfg.Supervise.BackendPort
	}

	return v, cfg, nil
}

// loadConfig loads configuration from file and sets defaults.
func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("server.data_dir", DefaultDataDir())
	v.SetDefault("server.status_addr", "127.0.0.1:2019")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("supervise.probe_interval", "15s")
	v.SetDefault("supervise.probe_timeout", "5s")
	v.SetDefault("supervise.start_delay", "2m")
	v.SetDefault("supervise.backend_port", 8000)
	v.SetDefault("edge.renewal_window", "720h")
	v.SetDefault("edge.redirect_addr", ":80")
	// The redirect listener owns port 80 and forwards HTTP-01 challenges to
	// the solver on this loopback port.
	v.SetDefault("acme.challenge_port", 5002)
	v.SetDefault("telemetry.enabled", false)

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("AIASTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

// initLogger initializes the zerowrap logger.
func initLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		logPath := cfg.Logging.File.Path
		if logPath == "" {
			logPath = filepath.Join(cfg.Server.DataDir, "logs", "aiastra.log")
		}

		log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
			Enabled:    true,
			Path:       logPath,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   true,
		})
		if err != nil {
			return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
		}
		return log, cleanup, nil
	}

	return zerowrap.New(logConfig), nil, nil
}

// validateRequiredEnv fails fast when declared environment variables are
// missing, listing all of them at once.
func validateRequiredEnv(required []string) error {
	var missing []string
	for _, name := range required {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required environment variables: %s",
			domain.ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
