package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agenthub-io/agenthub/pkg/agent"
	"github.com/agenthub-io/agenthub/pkg/memory"
	"github.com/agenthub-io/agenthub/pkg/tool"
)

// ChatCmd runs a single agent task from the terminal.
type ChatCmd struct {
	Task string `arg:"" help:"Task for the agent."`

	Provider     string `help:"Provider name (claude or gemini)." default:"claude"`
	SystemPrompt string `help:"Base system prompt."`
	Scope        string `help:"Memory scope (global or project)." default:"global"`
	ScopeID      string `help:"Project id when scope is project."`
	TaskType     string `help:"Task type for trigger-based memory elevation."`
	MaxTurns     int    `help:"Max agent turns."`
	Write        bool   `help:"Allow the provider to write files."`
	Yolo         bool   `help:"Skip write approval prompts."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.factory.Start(ctx)
	defer rt.factory.Stop(context.Background())

	provider, err := rt.registry.Get(c.Provider)
	if err != nil {
		return err
	}
	svc, err := rt.factory.Service(memory.Scope(c.Scope), c.ScopeID)
	if err != nil {
		return err
	}

	runner, err := agent.NewRunner(provider, svc, nil, agent.Config{
		SystemPrompt: c.SystemPrompt,
		TaskType:     c.TaskType,
		MaxTurns:     c.MaxTurns,
		WriteEnabled: c.Write,
		YoloMode:     c.Yolo,
		Permissions: &tool.Policy{
			WriteEnabled: c.Write,
			YoloMode:     c.Yolo,
			Callback:     tool.TerminalPrompt(),
		},
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, c.Task)
	if err != nil {
		return err
	}

	fmt.Println(result.Content)
	if result.Status != agent.StatusSuccess {
		return fmt.Errorf("agent finished with status %s: %s", result.Status, result.Error)
	}
	fmt.Fprintf(os.Stderr, "\n[%d turns, %d in / %d out tokens",
		result.Turns, result.InputTokens, result.OutputTokens)
	if len(result.CitedUUIDs) > 0 {
		fmt.Fprintf(os.Stderr, ", %d rules cited", len(result.CitedUUIDs))
	}
	fmt.Fprintln(os.Stderr, "]")
	return nil
}
