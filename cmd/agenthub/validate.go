package main

import (
	"fmt"

	"github.com/agenthub-io/agenthub/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Path string `arg:"" optional:"" help:"Config file to validate (defaults to --config)." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Path
	if path == "" {
		path = cli.Config
	}
	if path == "" {
		return fmt.Errorf("no config file given; pass a path or use --config")
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	fmt.Printf("%s is valid\n", path)
	return nil
}
