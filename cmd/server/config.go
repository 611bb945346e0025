package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/ollama-relay/internal/handlers"
	"github.com/MegaGrindStone/ollama-relay/internal/metrics"
	"github.com/MegaGrindStone/ollama-relay/internal/services"
	"github.com/MegaGrindStone/ollama-relay/internal/stream"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = "You are an expert programmer and an assistant for technical interviews. " +
	"Answer clearly and in a structured way, with code examples where appropriate."

// options are the command line flags, parsed by go-flags.
type options struct {
	Config string `short:"c" long:"config" description:"path to the YAML config file"`
	Listen string `short:"l" long:"listen" description:"address to listen on, overrides the config file"`
	Env    string `long:"env" default:".env" description:"dotenv file loaded before reading the environment"`
}

type config struct {
	Listen       string       `yaml:"listen"`
	Service      string       `yaml:"service"`
	SystemPrompt string       `yaml:"systemPrompt"`
	Ollama       ollamaConfig `yaml:"ollama"`
	Stream       streamConfig `yaml:"stream"`
	Log          logConfig    `yaml:"log"`
}

type ollamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type streamConfig struct {
	Capacity   int           `yaml:"capacity"`
	Pacing     time.Duration `yaml:"pacing"`
	ReadBuffer int           `yaml:"readBuffer"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() config {
	return config{
		Listen:       "127.0.0.1:3030",
		Service:      "ollama-relay",
		SystemPrompt: defaultSystemPrompt,
		Ollama: ollamaConfig{
			Host:  "http://localhost:11434",
			Model: "deepseek-coder-v2",
		},
		Stream: streamConfig{
			Capacity:   stream.DefaultCapacity,
			Pacing:     stream.DefaultPacing,
			ReadBuffer: stream.DefaultReadBuffer,
		},
		Log: logConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultConfigPath is where the config is looked up when no path is given.
func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "ollama-relay", "config.yaml"), nil
}

// loadConfig builds the configuration from the defaults, the YAML file at path and the environment, in
// that order. A missing file is an error only when required is set.
func loadConfig(path string, required bool, getenv func(string) string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	cfg.applyEnv(getenv)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) applyEnv(getenv func(string) string) {
	if v := getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Ollama.Host = v
	}
	if v := getenv("RELAY_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := getenv("RELAY_LISTEN"); v != "" {
		c.Listen = v
	}
}

func (c config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Ollama.Host == "" {
		return fmt.Errorf("ollama host is required")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Stream.Capacity <= 0 {
		return fmt.Errorf("stream capacity must be positive, got %d", c.Stream.Capacity)
	}
	if c.Stream.Pacing < 0 {
		return fmt.Errorf("stream pacing must not be negative, got %s", c.Stream.Pacing)
	}
	if c.Stream.ReadBuffer <= 0 {
		return fmt.Errorf("stream read buffer must be positive, got %d", c.Stream.ReadBuffer)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format: %s", c.Log.Format)
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
	return l, nil
}

func (c config) logger(w io.Writer) *slog.Logger {
	// validate already rejected unknown levels.
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c config) newOllama() (services.Ollama, error) {
	return services.NewOllama(c.Ollama.Host, c.Ollama.Model, c.SystemPrompt)
}

func (c config) handlerOptions(logger *slog.Logger, collector *metrics.Collector) handlers.Options {
	// Zero pacing in the file means "no pause"; the stream package reads zero as its default.
	pacing := c.Stream.Pacing
	if pacing == 0 {
		pacing = -1
	}
	return handlers.Options{
		Service:    c.Service,
		Capacity:   c.Stream.Capacity,
		Pacing:     pacing,
		ReadBuffer: c.Stream.ReadBuffer,
		Logger:     logger,
		Metrics:    collector,
	}
}
