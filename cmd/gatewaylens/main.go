package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"gatewaylens/internal/cli"
)

var version = "dev"

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("gatewaylens"),
		kong.Description("Analyse web gateway proxy logs: statistics, anomalies and a reviewable timeline."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}),
	)

	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", c.EnvFile, err)
	}
	if c.Config == "" {
		c.Config = os.Getenv("GATEWAYLENS_CONFIG")
	}

	if err := ctx.Run(cli.NewGlobals(&c, version)); err != nil {
		fmt.Fprintf(os.Stderr, "gatewaylens: %v\n", err)
		os.Exit(1)
	}
}
