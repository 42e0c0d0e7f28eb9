// Command agenthub is the CLI for the Agent Hub gateway.
//
// Usage:
//
//	agenthub serve --config agenthub.yaml
//	agenthub chat "review this diff" --scope project --scope-id acme
//	agenthub optimize --scope project --scope-id acme
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	agenthub "github.com/agenthub-io/agenthub"
	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the gateway server."`
	Chat     ChatCmd     `cmd:"" help:"Run a single agent task from the terminal."`
	Optimize OptimizeCmd `cmd:"" help:"Run one tier optimization pass."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the config file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agenthub.GetVersion().String())
	return nil
}

// loadConfig resolves the effective configuration: the --config file when
// given, environment-driven defaults otherwise.
func loadConfig(cli *CLI) (*config.Config, error) {
	config.LoadDotEnv()
	if cli.Config != "" {
		return config.Load(cli.Config)
	}
	return config.Default(), nil
}

func setupLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closer, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closer
	}
	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("agenthub"),
		kong.Description("LLM orchestration gateway with tiered memory injection."),
		kong.UsageOnError(),
	)

	cleanup, err := setupLogging(cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := ctx.Run(cli); err != nil {
		slog.Error("Command failed", "error", err)
		cleanup()
		os.Exit(1)
	}
}
