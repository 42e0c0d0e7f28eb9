package main

import (
	"context"
	"fmt"

	"github.com/agenthub-io/agenthub/pkg/memory"
)

// OptimizeCmd runs one tier optimization pass and prints the report.
type OptimizeCmd struct {
	Scope   string `help:"Memory scope (global or project)." default:"global"`
	ScopeID string `help:"Project id when scope is project."`
	DryRun  bool   `help:"Report decisions without applying them."`
}

func (c *OptimizeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	groupID, err := memory.GroupID(memory.Scope(c.Scope), c.ScopeID)
	if err != nil {
		return err
	}

	report, err := rt.factory.Optimizer().Run(context.Background(), []string{groupID}, c.DryRun)
	if err != nil {
		return err
	}

	mode := "applied"
	if report.DryRun {
		mode = "dry run"
	}
	fmt.Printf("Scanned %d episodes (%s)\n", report.Scanned, mode)
	for _, change := range report.Demotions {
		fmt.Printf("  demote %s: %s -> %s (%s)\n", change.UUID[:8], change.FromTier, change.ToTier, change.Reason)
	}
	for _, change := range report.Promotions {
		fmt.Printf("  promote %s: %s -> %s (%s)\n", change.UUID[:8], change.FromTier, change.ToTier, change.Reason)
	}
	if len(report.Demotions)+len(report.Promotions) == 0 {
		fmt.Println("  no tier changes")
	}
	return nil
}
