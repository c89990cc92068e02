package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/mec/discovery"
	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "MEC"

// IsolationMode selects how non-browser targets are isolated.
type IsolationMode string

const (
	IsolationAuto    IsolationMode = "auto"
	IsolationWorker  IsolationMode = "worker"
	IsolationProcess IsolationMode = "process"
)

func (m IsolationMode) String() string {
	return string(m)
}

func (m IsolationMode) IsValid() bool {
	switch m {
	case IsolationAuto, IsolationWorker, IsolationProcess:
		return true
	default:
		return false
	}
}

func ValidIsolationModes() []IsolationMode {
	return []IsolationMode{IsolationAuto, IsolationWorker, IsolationProcess}
}

func validateIsolation(value string) error {
	if !IsolationMode(value).IsValid() {
		return fmt.Errorf("invalid isolation mode %q, must be one of %v", value, ValidIsolationModes())
	}
	return nil
}

var (
	Browser = &cli.BoolFlag{
		Name:    "browser",
		Aliases: []string{"b"},
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSER"),
		Usage:   "Run the tests in a sandboxed page of an automated browser",
	}
	KeepAlive = &cli.BoolFlag{
		Name:    "keepAlive",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KEEPALIVE"),
		Usage:   "Keep the browser and harness server running after the run. Implies a visible browser.",
	}
	Isolation = &cli.StringFlag{
		Name:    "isolation",
		Value:   string(IsolationAuto),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ISOLATION"),
		Usage:   "Isolation of non-browser targets: 'auto', 'worker' (in-process) or 'process' (one child process per target)",
		Action: func(ctx *cli.Context, value string) error {
			return validateIsolation(value)
		},
	}
	Pattern = &cli.StringFlag{
		Name:    "pattern",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PATTERN"),
		Usage: fmt.Sprintf("Glob matched against files below the test directories (default %q, or %q with --browser)",
			discovery.DefaultPattern, discovery.DefaultBrowserPattern),
	}
	Ignore = &cli.StringSliceFlag{
		Name:    "ignore",
		Value:   cli.NewStringSlice(discovery.DefaultIgnore...),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "IGNORE"),
		Usage:   "Globs excluded from discovery",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary used to run .go targets in process isolation",
	}
	AssetsDir = &cli.StringFlag{
		Name:    "assets",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ASSETS"),
		Usage:   "Directory holding chai.js and sinon.js for browser targets",
	}
	ChromePath = &cli.StringFlag{
		Name:    "chrome-path",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CHROME_PATH"),
		Usage:   "Path to the Chrome or Chromium binary. Looked up on PATH when empty.",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML config file (default '.mec.yaml' when present)",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address of the healthz server (eg. '127.0.0.1:8080'). Disabled when empty.",
	}
)

var optionalFlags = []cli.Flag{
	Browser,
	KeepAlive,
	Isolation,
	Pattern,
	Ignore,
	GoBinary,
	AssetsDir,
	ChromePath,
	ConfigFile,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}
