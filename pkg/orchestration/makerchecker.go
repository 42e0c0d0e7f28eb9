package orchestration

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultMaxIterations = 3

const checkerPromptTemplate = `You are a strict reviewer. Evaluate the work below against the task.

Task:
%s

Work:
%s

Respond in exactly this format:
DECISION: APPROVED or NEEDS_REVISION
CONFIDENCE: 0-100
ISSUES:
- one issue per line, or "none"
SUGGESTIONS:
- one suggestion per line, or "none"`

const revisionTaskTemplate = `%s

Your previous attempt:
%s

Reviewer issues:
%s

Reviewer suggestions:
%s

Produce a revised version that addresses every issue.`

// Review is the checker's parsed verdict.
type Review struct {
	Approved    bool     `json:"approved"`
	Confidence  int      `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Raw         string   `json:"-"`
}

// VerifyResult is the outcome of a maker-checker loop.
type VerifyResult struct {
	Approved     bool          `json:"approved"`
	Iterations   int           `json:"iterations"`
	Output       string        `json:"output"`
	FinalReview  *Review       `json:"final_review,omitempty"`
	History      []*Review     `json:"history,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// MakerCheckerConfig pairs a producer with an independent reviewer. Maker
// and checker may run on different providers.
type MakerCheckerConfig struct {
	Maker         SubagentConfig
	Checker       SubagentConfig
	MaxIterations int
}

// MakerChecker runs a produce-review-revise loop until the checker
// approves or iterations run out.
type MakerChecker struct {
	maker   *Spawner
	checker *Spawner
	cfg     MakerCheckerConfig
}

// NewMakerChecker creates the loop. checker may be the same spawner as
// maker when one provider plays both roles.
func NewMakerChecker(maker, checker *Spawner, cfg MakerCheckerConfig) *MakerChecker {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &MakerChecker{maker: maker, checker: checker, cfg: cfg}
}

// Verify runs the loop for one task. The last produced output is returned
// even when the checker never approves.
func (m *MakerChecker) Verify(ctx context.Context, task string) (*VerifyResult, error) {
	result := &VerifyResult{}
	started := time.Now()
	currentTask := task

	for i := 1; i <= m.cfg.MaxIterations; i++ {
		result.Iterations = i

		produced := m.maker.Spawn(ctx, currentTask, m.cfg.Maker, nil, "", "")
		result.InputTokens += produced.InputTokens
		result.OutputTokens += produced.OutputTokens
		if !produced.Succeeded() {
			return nil, fmt.Errorf("maker failed on iteration %d: %s", i, produced.Error)
		}
		result.Output = produced.Content

		checkPrompt := fmt.Sprintf(checkerPromptTemplate, task, produced.Content)
		checked := m.checker.Spawn(ctx, checkPrompt, m.cfg.Checker, nil, "", "")
		result.InputTokens += checked.InputTokens
		result.OutputTokens += checked.OutputTokens
		if !checked.Succeeded() {
			return nil, fmt.Errorf("checker failed on iteration %d: %s", i, checked.Error)
		}

		review := ParseReview(checked.Content)
		result.History = append(result.History, review)
		result.FinalReview = review

		if review.Approved {
			result.Approved = true
			break
		}
		currentTask = fmt.Sprintf(revisionTaskTemplate, task, produced.Content,
			bulletList(review.Issues), bulletList(review.Suggestions))
	}

	result.Duration = time.Since(started)
	return result, nil
}

// ParseReview extracts the structured verdict from checker output. Missing
// or malformed sections degrade to a non-approval with zero confidence so a
// sloppy checker can never wave work through.
func ParseReview(text string) *Review {
	review := &Review{Raw: text}
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "DECISION:"):
			verdict := strings.TrimSpace(strings.TrimPrefix(line, "DECISION:"))
			review.Approved = strings.EqualFold(verdict, "APPROVED")
			section = ""
		case strings.HasPrefix(line, "CONFIDENCE:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:"))
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 100 {
				review.Confidence = n
			}
			section = ""
		case strings.HasPrefix(line, "ISSUES:"):
			section = "issues"
		case strings.HasPrefix(line, "SUGGESTIONS:"):
			section = "suggestions"
		case strings.HasPrefix(line, "-"):
			item := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			if item == "" || strings.EqualFold(item, "none") {
				continue
			}
			switch section {
			case "issues":
				review.Issues = append(review.Issues, item)
			case "suggestions":
				review.Suggestions = append(review.Suggestions, item)
			}
		}
	}
	return review
}

// CodeReviewConfig is the preset for reviewing code changes: a careful
// low-temperature maker with a blunt checker prompt.
func CodeReviewConfig() MakerCheckerConfig {
	return MakerCheckerConfig{
		Maker: SubagentConfig{
			SystemPrompt: "You are a senior engineer. Produce correct, minimal code with clear reasoning.",
			Temperature:  0.2,
		},
		Checker: SubagentConfig{
			SystemPrompt: "You are a code reviewer. Flag correctness bugs, missing edge cases, and unsafe patterns. Do not approve work with unresolved correctness issues.",
			Temperature:  0,
		},
		MaxIterations: defaultMaxIterations,
	}
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
