package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gatewaylens/internal/config"
	"gatewaylens/internal/logging"
)

// CLI is the root command structure.
type CLI struct {
	Config   string `short:"c" type:"path" env:"GATEWAYLENS_CONFIG" help:"Config file (yaml, json or toml)"`
	LogLevel string `name:"log-level" help:"Override log level (debug, info, warn, error)"`
	EnvFile  string `name:"env-file" default:".env" help:"Dotenv file loaded before the config"`

	Serve    ServeCmd    `cmd:"" help:"Run the upload API and the configured ingest sources"`
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyse a log file and print the report"`
	Validate ValidateCmd `cmd:"" help:"Check that a file looks like a gateway log export"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// Globals holds shared state for all commands.
type Globals struct {
	ConfigPath string
	LogLevel   string
	Version    string
	Stdout     io.Writer
	Stderr     io.Writer
}

func NewGlobals(c *CLI, version string) *Globals {
	return &Globals{
		ConfigPath: c.Config,
		LogLevel:   c.LogLevel,
		Version:    version,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Load reads the config and builds a logger on stderr.
func (g *Globals) Load() (*config.Manager, *slog.Logger, error) {
	mgr, err := config.NewManager(g.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := mgr.Get().LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	return mgr, logging.NewLoggerTo(g.Stderr, level), nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Stdout, "gatewaylens %s\n", g.Version)
	return err
}
