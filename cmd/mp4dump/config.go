package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	console "github.com/phsym/console-slog"
	"gopkg.in/yaml.v3"
)

// Config holds the dump options. Values come from an optional YAML file and
// are overridden by flags given on the command line.
type Config struct {
	Format        string `yaml:"format"`
	LogLevel      string `yaml:"log_level"`
	Summary       bool   `yaml:"summary"`
	Samples       bool   `yaml:"samples"`
	SuppressFlags bool   `yaml:"suppress_flags"`
	Strict        bool   `yaml:"strict"`
	SkipMdat      bool   `yaml:"skip_mdat"`
	Init          string `yaml:"init"`
	NoColor       bool   `yaml:"no_color"`
}

func defaultConfig() Config {
	return Config{Format: "text", LogLevel: "info", SkipMdat: true}
}

// loadConfig reads a YAML config file over the defaults.
func loadConfig(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// parseFlags binds flags to a scratch config and copies the ones that were
// set explicitly over cfg, so a config file only supplies defaults.
func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var fromFlags Config
	configPath := fs.String("config", "", "YAML config file")
	fs.StringVar(&fromFlags.Format, "format", "text", "output format: text (default), json, yaml")
	fs.StringVar(&fromFlags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&fromFlags.Summary, "summary", false, "print a file summary instead of the box tree")
	fs.BoolVar(&fromFlags.Samples, "samples", false, "print reconstructed samples for every track and fragment")
	fs.BoolVar(&fromFlags.SuppressFlags, "suppress-flags", false, "omit sample flags from fragment samples")
	fs.BoolVar(&fromFlags.Strict, "strict", false, "fail on unregistered box types")
	fs.BoolVar(&fromFlags.SkipMdat, "skip-mdat", true, "do not load mdat payloads")
	fs.StringVar(&fromFlags.Init, "init", "", "init segment supplying the moov for a media segment")
	fs.BoolVar(&fromFlags.NoColor, "no-color", false, "disable colored log output")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format":
			cfg.Format = fromFlags.Format
		case "log-level":
			cfg.LogLevel = fromFlags.LogLevel
		case "summary":
			cfg.Summary = fromFlags.Summary
		case "samples":
			cfg.Samples = fromFlags.Samples
		case "suppress-flags":
			cfg.SuppressFlags = fromFlags.SuppressFlags
		case "strict":
			cfg.Strict = fromFlags.Strict
		case "skip-mdat":
			cfg.SkipMdat = fromFlags.SkipMdat
		case "init":
			cfg.Init = fromFlags.Init
		case "no-color":
			cfg.NoColor = fromFlags.NoColor
		}
	})
	cfg.Format = strings.ToLower(cfg.Format)
	switch cfg.Format {
	case "text", "json", "yaml":
	default:
		return Config{}, fmt.Errorf("unknown format: %s", cfg.Format)
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func newLogger(cfg Config) *slog.Logger {
	return slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    cfg.NoColor,
	}))
}
