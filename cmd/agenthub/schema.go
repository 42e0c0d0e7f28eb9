package main

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/agenthub-io/agenthub/pkg/config"
)

// SchemaCmd generates JSON Schema for the config file. Written to stdout
// so it can be redirected into docs or editor tooling.
type SchemaCmd struct {
	Compact bool `short:"C" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://agenthub.io/schemas/config.json"
	schema.Title = "Agent Hub Configuration Schema"
	schema.Description = "Configuration schema for the Agent Hub gateway"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(schema)
}
