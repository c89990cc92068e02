package mec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/mec/discovery"
	"github.com/ethereum-optimism/infra/mec/flags"
	"github.com/ethereum-optimism/infra/mec/service"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = ".mec.yaml"

// Config holds the application configuration
type Config struct {
	TestDirs   []string            // Directories searched for targets
	Browser    bool                // Run targets in a sandboxed browser page
	KeepAlive  bool                // Leave the browser running after the run
	Isolation  flags.IsolationMode // Isolation of non-browser targets
	Pattern    string              // Glob selecting target files
	Ignore     []string            // Globs excluded from discovery
	GoBinary   string
	AssetsDir  string // Directory holding chai.js and sinon.js
	ChromePath string
	ConfigFile string // YAML file the settings were overlaid from, if any
	Service    service.Config
	Log        log.Logger
}

// fileConfig is the YAML form of Config. Explicit flags win over the file.
type fileConfig struct {
	Tests      []string `yaml:"tests"`
	Browser    *bool    `yaml:"browser"`
	KeepAlive  *bool    `yaml:"keepAlive"`
	Isolation  string   `yaml:"isolation"`
	Pattern    string   `yaml:"pattern"`
	Ignore     []string `yaml:"ignore"`
	GoBinary   string   `yaml:"goBinary"`
	Assets     string   `yaml:"assets"`
	ChromePath string   `yaml:"chromePath"`
}

// NewConfig creates a new Config from cli context. dirs are the positional
// test directories; the YAML file fills in whatever was not set explicitly.
func NewConfig(ctx *cli.Context, log log.Logger, dirs []string) (*Config, error) {
	cfg := &Config{
		Browser:    ctx.Bool(flags.Browser.Name),
		KeepAlive:  ctx.Bool(flags.KeepAlive.Name),
		Isolation:  flags.IsolationMode(ctx.String(flags.Isolation.Name)),
		Pattern:    ctx.String(flags.Pattern.Name),
		Ignore:     ctx.StringSlice(flags.Ignore.Name),
		GoBinary:   ctx.String(flags.GoBinary.Name),
		AssetsDir:  ctx.String(flags.AssetsDir.Name),
		ChromePath: ctx.String(flags.ChromePath.Name),
		Service: service.Config{
			Metrics:     opmetrics.ReadCLIConfig(ctx),
			HealthzAddr: ctx.String(flags.HealthzAddr.Name),
		},
		Log: log,
	}

	configFile, explicit := ctx.String(flags.ConfigFile.Name), ctx.IsSet(flags.ConfigFile.Name)
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	fc, err := loadFileConfig(configFile, explicit)
	if err != nil {
		return nil, err
	}
	if fc != nil {
		cfg.ConfigFile = configFile
		cfg.overlay(ctx, fc)
		if len(dirs) == 0 {
			dirs = fc.Tests
		}
	}

	if len(dirs) == 0 {
		dirs = []string{discovery.DefaultDir}
	}
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", dir, err)
		}
		cfg.TestDirs = append(cfg.TestDirs, abs)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileConfig reads a YAML config. A missing default file is not an error.
func loadFileConfig(path string, required bool) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return &fc, nil
}

func (c *Config) overlay(ctx *cli.Context, fc *fileConfig) {
	if fc.Browser != nil && !ctx.IsSet(flags.Browser.Name) {
		c.Browser = *fc.Browser
	}
	if fc.KeepAlive != nil && !ctx.IsSet(flags.KeepAlive.Name) {
		c.KeepAlive = *fc.KeepAlive
	}
	if fc.Isolation != "" && !ctx.IsSet(flags.Isolation.Name) {
		c.Isolation = flags.IsolationMode(fc.Isolation)
	}
	if fc.Pattern != "" && !ctx.IsSet(flags.Pattern.Name) {
		c.Pattern = fc.Pattern
	}
	if len(fc.Ignore) > 0 && !ctx.IsSet(flags.Ignore.Name) {
		c.Ignore = fc.Ignore
	}
	if fc.GoBinary != "" && !ctx.IsSet(flags.GoBinary.Name) {
		c.GoBinary = fc.GoBinary
	}
	if fc.Assets != "" && !ctx.IsSet(flags.AssetsDir.Name) {
		c.AssetsDir = fc.Assets
	}
	if fc.ChromePath != "" && !ctx.IsSet(flags.ChromePath.Name) {
		c.ChromePath = fc.ChromePath
	}
}

func (c *Config) finalize() error {
	if !c.Isolation.IsValid() {
		return fmt.Errorf("invalid isolation mode %q, must be one of %v", c.Isolation, flags.ValidIsolationModes())
	}
	if c.KeepAlive && !c.Browser {
		c.Log.Warn("--keepAlive only applies to browser runs, ignoring")
		c.KeepAlive = false
	}
	if c.Pattern == "" {
		c.Pattern = discovery.DefaultPattern
		if c.Browser {
			c.Pattern = discovery.DefaultBrowserPattern
		}
	}
	if c.AssetsDir != "" {
		abs, err := filepath.Abs(c.AssetsDir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for assets directory '%s': %w", c.AssetsDir, err)
		}
		c.AssetsDir = abs
	}
	return nil
}
