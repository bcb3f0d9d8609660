package internal

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Telluride/internal/api"
	"github.com/hbomb79/Telluride/internal/extract"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// TellurideConfig is the struct used to contain the
// various user config supplied by file, or via the
// environment.
type TellurideConfig struct {
	Server    ServerConfig   `yaml:"server"`
	Extractor extract.Config `yaml:"extractor"`
	Download  DownloadConfig `yaml:"download"`
	LogLevel  string         `yaml:"log_level" env:"TELLURIDE_LOG_LEVEL" env-default:"INFO"`
}

// ServerConfig is a subset of the configuration that only
// applies when Telluride is running in server mode.
type ServerConfig struct {
	api.RestConfig `yaml:",inline"`
	Workers        int `yaml:"workers" env:"TELLURIDE_WORKERS" env-default:"4" validate:"min=1"`
}

// DownloadConfig provides the defaults every download starts from.
type DownloadConfig struct {
	OutputDir           string `yaml:"output_dir" env:"TELLURIDE_OUTPUT_DIR" env-default:"."`
	FileNameLengthLimit int    `yaml:"filename_length_limit" env:"TELLURIDE_FILENAME_LENGTH_LIMIT" env-default:"0" validate:"min=0"`
	VerifyCertificate   bool   `yaml:"verify_certificate" env:"TELLURIDE_VERIFY_CERTIFICATE" env-default:"false"`
}

// Loads a configuration file formatted in YAML in to a
// TellurideConfig struct. Environment variables take
// precedence over values in the file.
func (config *TellurideConfig) LoadFromFile(configPath string) error {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("failed to expand config path %q: %w", configPath, err)
	}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %v", path, err.Error())
	}

	return config.finalise()
}

// LoadFromEnv populates the config using only environment
// variables and their defaults.
func (config *TellurideConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
	}

	return config.finalise()
}

// Defaults returns the values a new DownloadOptions record starts from.
func (config *TellurideConfig) Defaults() options.Defaults {
	return options.Defaults{
		VerifyCertificate:   config.Download.VerifyCertificate,
		FileNameLengthLimit: config.Download.FileNameLengthLimit,
		OutputDir:           config.Download.OutputDir,
	}
}

// Level returns the configured minimum log level, falling back to INFO
// if the configured value is not recognised.
func (config *TellurideConfig) Level() logger.LogStatus {
	if level, ok := logger.ParseLevel(config.LogLevel); ok {
		return level
	}

	return logger.INFO
}

func (config *TellurideConfig) finalise() error {
	for _, path := range []*string{&config.Download.OutputDir, &config.Extractor.BinaryPath, &config.Extractor.FfmpegLocation} {
		expanded, err := homedir.Expand(strings.TrimSpace(*path))
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *path, err)
		}
		*path = expanded
	}

	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = api.ShutdownTimeoutFor(config.Extractor.MetadataTimeout)
	}

	if _, ok := logger.ParseLevel(config.LogLevel); !ok {
		return fmt.Errorf("configuration is invalid: unknown log level %q", config.LogLevel)
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	return nil
}
