package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompt returns a permission callback that asks the operator on
// stdin. When stdin is not a terminal the callback denies, so headless runs
// never hang waiting for input.
func TerminalPrompt() PermissionCallback {
	return func(ctx context.Context, toolName string, input map[string]any) PermissionResult {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return PermissionResult{Decision: Deny, Reason: "write approval requires an interactive terminal"}
		}

		fmt.Printf("\nTool %q wants to run with input %v\n", toolName, input)
		fmt.Print("Allow? [y/N]: ")

		answerCh := make(chan string, 1)
		go func() {
			reader := bufio.NewReader(os.Stdin)
			line, _ := reader.ReadString('\n')
			answerCh <- strings.ToLower(strings.TrimSpace(line))
		}()

		select {
		case <-ctx.Done():
			return PermissionResult{Decision: Deny, Reason: "approval cancelled"}
		case answer := <-answerCh:
			if answer == "y" || answer == "yes" {
				return PermissionResult{Decision: Allow}
			}
			return PermissionResult{Decision: Deny, Reason: "denied by operator"}
		}
	}
}
