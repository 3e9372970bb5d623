// Package model defines the data structures for insightbot's configuration,
// inbound messages, and query results.
package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Transport TransportConfig `yaml:"transport"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type BotConfig struct {
	// CancelCommand aborts the user's most recent in-flight request when sent
	// as a message body (matched case-insensitively, trimmed).
	CancelCommand string `yaml:"cancel_command"`
	// ChartTrigger requests a chart image when present in the message body.
	ChartTrigger string `yaml:"chart_trigger"`
	// DedupRetentionSec is how long processed message IDs are remembered.
	// The sweep runs every DedupRetentionSec/2 seconds.
	DedupRetentionSec  int    `yaml:"dedup_retention_sec"`
	AudioDir           string `yaml:"audio_dir"`
	ChartDir           string `yaml:"chart_dir"`
	FFmpegPath         string `yaml:"ffmpeg_path"`
	LockFile           string `yaml:"lock_file"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

type TransportConfig struct {
	// ListenAddr is where the webhook server accepts inbound message events.
	ListenAddr string `yaml:"listen_addr"`
	// GatewayURL is the base URL of the messaging gateway used for outbound
	// sends and media downloads.
	GatewayURL string `yaml:"gateway_url"`
	Token      string `yaml:"token"`
}

type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	QueryModel      string `yaml:"query_model"`
	HumanizerModel  string `yaml:"humanizer_model"`
	TranscribeModel string `yaml:"transcribe_model"`
	ChartModel      string `yaml:"chart_model"`
}

type DatasetConfig struct {
	CSVPath string `yaml:"csv_path"`
	Table   string `yaml:"table"`
}

type LimitsConfig struct {
	// MaxConcurrent bounds the number of pipelines executing at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxRows caps how many result rows are fed to the humanizer.
	MaxRows int `yaml:"max_rows"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the built-in defaults. LoadConfig overlays a YAML
// file on top of these, so a partial config file is fine.
func DefaultConfig() Config {
	return Config{
		Bot: BotConfig{
			CancelCommand:      "cancelar",
			ChartTrigger:       "&",
			DedupRetentionSec:  300,
			AudioDir:           "audios",
			ChartDir:           "charts",
			FFmpegPath:         "/usr/bin/ffmpeg",
			LockFile:           "insightbot.lock",
			ShutdownTimeoutSec: 30,
		},
		Transport: TransportConfig{
			ListenAddr: ":8080",
		},
		OpenAI: OpenAIConfig{
			QueryModel:      "gpt-4o-mini",
			HumanizerModel:  "gpt-4o-mini",
			TranscribeModel: "gpt-4o-transcribe",
			ChartModel:      "gpt-4o-mini",
		},
		Dataset: DatasetConfig{
			CSVPath: "resultado.csv",
			Table:   "dataset",
		},
		Limits: LimitsConfig{
			MaxConcurrent: 5,
			MaxRows:       790,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. The OpenAI API key
// may be left out of the file and provided via OPENAI_API_KEY instead.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the coordinator cannot run without.
func (c Config) Validate() error {
	if c.Limits.MaxConcurrent < 1 {
		return fmt.Errorf("limits.max_concurrent must be >= 1, got %d", c.Limits.MaxConcurrent)
	}
	if c.Limits.MaxRows < 1 {
		return fmt.Errorf("limits.max_rows must be >= 1, got %d", c.Limits.MaxRows)
	}
	if c.Bot.DedupRetentionSec < 1 {
		return fmt.Errorf("bot.dedup_retention_sec must be >= 1, got %d", c.Bot.DedupRetentionSec)
	}
	if c.Bot.CancelCommand == "" {
		return fmt.Errorf("bot.cancel_command must not be empty")
	}
	return nil
}
