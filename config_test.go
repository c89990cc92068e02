package mec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/mec/discovery"
	"github.com/ethereum-optimism/infra/mec/flags"
)

// parseConfig runs a throwaway app to build a Config from command-line args.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var cfgErr error
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()), ctx.Args().Slice())
		return nil
	}
	require.NoError(t, app.Run(append([]string{"mec"}, args...)))
	return cfg, cfgErr
}

// chdirTemp moves into a fresh temp dir for the duration of the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestNewConfigDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := parseConfig(t)
	require.NoError(t, err)

	abs, err := filepath.Abs(discovery.DefaultDir)
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, cfg.TestDirs)
	assert.False(t, cfg.Browser)
	assert.False(t, cfg.KeepAlive)
	assert.Equal(t, flags.IsolationAuto, cfg.Isolation)
	assert.Equal(t, discovery.DefaultPattern, cfg.Pattern)
	assert.Equal(t, discovery.DefaultIgnore, cfg.Ignore)
	assert.Equal(t, "go", cfg.GoBinary)
	assert.Empty(t, cfg.ConfigFile)
	assert.False(t, cfg.Service.Metrics.Enabled)
}

func TestNewConfigFlags(t *testing.T) {
	dir := chdirTemp(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "browser short flag switches pattern",
			args: []string{"-b", "web"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Browser)
				assert.Equal(t, discovery.DefaultBrowserPattern, cfg.Pattern)
				assert.Equal(t, filepath.Join(dir, "web"), cfg.TestDirs[0])
			},
		},
		{
			name: "keepAlive with browser",
			args: []string{"--browser", "--keepAlive"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.KeepAlive)
			},
		},
		{
			name: "keepAlive without browser is ignored",
			args: []string{"--keepAlive"},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.KeepAlive)
			},
		},
		{
			name: "multiple dirs and explicit pattern",
			args: []string{"--pattern", "**/*_suite.go", "a", "b"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "**/*_suite.go", cfg.Pattern)
				assert.Equal(t, []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}, cfg.TestDirs)
			},
		},
		{
			name: "isolation",
			args: []string{"--isolation", "process"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, flags.IsolationProcess, cfg.Isolation)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(t, tt.args...)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestNewConfigYAMLOverlay(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`
tests: [suites]
browser: true
isolation: process
pattern: "**/*.mjs"
goBinary: /usr/local/go/bin/go
assets: vendor/js
`), 0o644))

	t.Run("file fills unset flags", func(t *testing.T) {
		cfg, err := parseConfig(t)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfigFile, cfg.ConfigFile)
		assert.True(t, cfg.Browser)
		assert.Equal(t, flags.IsolationProcess, cfg.Isolation)
		assert.Equal(t, "**/*.mjs", cfg.Pattern)
		assert.Equal(t, "/usr/local/go/bin/go", cfg.GoBinary)
		assert.Equal(t, filepath.Join(dir, "vendor", "js"), cfg.AssetsDir)
		assert.Equal(t, []string{filepath.Join(dir, "suites")}, cfg.TestDirs)
	})

	t.Run("explicit flags win", func(t *testing.T) {
		cfg, err := parseConfig(t, "--pattern", "**/*.js", "--isolation", "worker", "other")
		require.NoError(t, err)
		assert.Equal(t, "**/*.js", cfg.Pattern)
		assert.Equal(t, flags.IsolationWorker, cfg.Isolation)
		assert.Equal(t, []string{filepath.Join(dir, "other")}, cfg.TestDirs)
	})
}

func TestNewConfigErrors(t *testing.T) {
	dir := chdirTemp(t)

	_, err := parseConfig(t, "--config", "missing.yaml")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("browser: [not a bool"), 0o644))
	_, err = parseConfig(t, "--config", "bad.yaml")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "iso.yaml"), []byte("isolation: thread\n"), 0o644))
	_, err = parseConfig(t, "--config", "iso.yaml")
	assert.Error(t, err)
}
