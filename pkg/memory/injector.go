package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/observability"
	"github.com/agenthub-io/agenthub/pkg/store"
)

const citationInstruction = "Cite any rule you apply using [M:id] or [G:id]."

// BudgetUsage reports how the token budget was spent.
type BudgetUsage struct {
	MandatesTokens     int  `json:"mandates_tokens"`
	GuardrailsTokens   int  `json:"guardrails_tokens"`
	ReferenceTokens    int  `json:"reference_tokens"`
	TotalBudget        int  `json:"total_budget"`
	Remaining          int  `json:"remaining"`
	HitLimit           bool `json:"hit_limit"`
	MandatesInjected   int  `json:"mandates_injected"`
	MandatesTotal      int  `json:"mandates_total"`
	GuardrailsInjected int  `json:"guardrails_injected"`
	GuardrailsTotal    int  `json:"guardrails_total"`
	ReferenceInjected  int  `json:"reference_injected"`
	ReferenceTotal     int  `json:"reference_total"`
}

// ProgressiveContext is the built three-block context.
type ProgressiveContext struct {
	Mandates    []Candidate    `json:"mandates"`
	Guardrails  []Candidate    `json:"guardrails"`
	Reference   []Candidate    `json:"reference"`
	TotalTokens int            `json:"total_tokens"`
	BudgetUsage BudgetUsage    `json:"budget_usage"`
	DebugInfo   map[string]any `json:"debug_info,omitempty"`

	// Text is the rendered block, appended to the end of the system
	// message so the recency bias works in its favor.
	Text string `json:"text"`
}

// LoadedUUIDs returns every injected episode UUID.
func (p *ProgressiveContext) LoadedUUIDs() []string {
	var uuids []string
	for _, set := range [][]Candidate{p.Mandates, p.Guardrails, p.Reference} {
		for _, c := range set {
			uuids = append(uuids, c.UUID)
		}
	}
	return uuids
}

// InjectOptions parameterize one injection.
type InjectOptions struct {
	Scope           Scope
	ScopeID         string
	TaskType        string
	ExternalID      string
	VariantOverride string
	Session         *SessionState
}

// Injector builds progressive-disclosure context under a token budget.
type Injector struct {
	store  graph.Store
	buffer *UsageBuffer
	log    *store.Store // optional
	cfg    config.MemoryConfig
}

// NewInjector creates the injector.
func NewInjector(graphStore graph.Store, buffer *UsageBuffer, logStore *store.Store, cfg config.MemoryConfig) *Injector {
	return &Injector{store: graphStore, buffer: buffer, log: logStore, cfg: cfg}
}

// Inject retrieves, scores, budget-fills, and formats context for a query.
// Loaded episodes are recorded into the session and the usage buffer.
func (inj *Injector) Inject(ctx context.Context, query string, opts InjectOptions) (*ProgressiveContext, error) {
	started := time.Now()

	groups, err := SearchGroups(opts.Scope, opts.ScopeID, true)
	if err != nil {
		return nil, err
	}
	groupID := groups[0]

	override := opts.VariantOverride
	if override == "" {
		override = inj.cfg.VariantOverride
	}
	variant := AssignVariant(opts.ExternalID, opts.ScopeID, override)

	// Similarity scores come from one semantic search shared by all tiers.
	edges, err := inj.store.Search(ctx, query, groups, inj.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	similarity := make(map[string]float64, len(edges))
	for _, edge := range edges {
		for _, episodeUUID := range edge.Episodes {
			if edge.Score > similarity[episodeUUID] {
				similarity[episodeUUID] = edge.Score
			}
		}
	}

	mandates, err := inj.tierCandidates(ctx, groups, graph.TierMandate, similarity, opts.TaskType)
	if err != nil {
		return nil, err
	}
	guardrails, err := inj.tierCandidates(ctx, groups, graph.TierGuardrail, similarity, opts.TaskType)
	if err != nil {
		return nil, err
	}
	reference := inj.referenceCandidates(ctx, edges, opts.TaskType)

	now := time.Now()
	pc := &ProgressiveContext{
		DebugInfo: map[string]any{
			"variant":  variant.Name,
			"group_id": groupID,
			"query":    query,
		},
	}

	selectedMandates := Select(mandates, variant, now)
	selectedGuardrails := Select(guardrails, variant, now)
	selectedReference := Select(reference, variant, now)

	budget := inj.cfg.TokenBudget
	usage := BudgetUsage{
		TotalBudget:     budget,
		MandatesTotal:   len(selectedMandates),
		GuardrailsTotal: len(selectedGuardrails),
		ReferenceTotal:  len(selectedReference),
	}

	remaining := budget
	pc.Mandates, remaining = fillTier(selectedMandates, inj.cfg.MaxMandates, remaining, &usage.MandatesTokens, &usage.HitLimit)
	pc.Guardrails, remaining = fillTier(selectedGuardrails, inj.cfg.MaxGuardrails, remaining, &usage.GuardrailsTokens, &usage.HitLimit)
	pc.Reference, remaining = fillTier(selectedReference, 0, remaining, &usage.ReferenceTokens, &usage.HitLimit)

	usage.Remaining = remaining
	usage.MandatesInjected = len(pc.Mandates)
	usage.GuardrailsInjected = len(pc.Guardrails)
	usage.ReferenceInjected = len(pc.Reference)
	pc.BudgetUsage = usage
	pc.TotalTokens = usage.MandatesTokens + usage.GuardrailsTokens + usage.ReferenceTokens
	pc.Text = formatContext(pc)

	inj.record(ctx, pc, groupID, query, opts, variant.Name, started)
	return pc, nil
}

func (inj *Injector) tierCandidates(ctx context.Context, groups []string, tier graph.Tier, similarity map[string]float64, taskType string) ([]Candidate, error) {
	episodes, err := inj.store.ListByTier(ctx, groups, tier)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s episodes: %w", tier, err)
	}

	var candidates []Candidate
	for _, episode := range episodes {
		if !episode.VectorIndexed {
			continue
		}
		candidate := CandidateFromEpisode(episode, similarity[episode.UUID])
		candidate.HasTagMatch = taskTypeMatch(candidate.TriggerTaskTypes, taskType)
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (inj *Injector) referenceCandidates(ctx context.Context, edges []graph.EntityEdge, taskType string) []Candidate {
	seen := make(map[string]struct{})
	var candidates []Candidate
	for _, edge := range edges {
		if edge.InjectionTier != graph.TierReference && edge.InjectionTier != "" {
			continue
		}
		if len(edge.Episodes) == 0 {
			continue
		}
		episodeUUID := edge.Episodes[0]
		if _, ok := seen[episodeUUID]; ok {
			continue
		}
		seen[episodeUUID] = struct{}{}

		episode, err := inj.store.GetEpisode(ctx, episodeUUID)
		if err != nil || !episode.VectorIndexed {
			continue
		}
		candidate := CandidateFromEpisode(*episode, edge.Score)
		candidate.HasTagMatch = taskTypeMatch(candidate.TriggerTaskTypes, taskType)
		candidates = append(candidates, candidate)
	}
	return candidates
}

func taskTypeMatch(triggers []string, taskType string) bool {
	if taskType == "" {
		return false
	}
	for _, t := range triggers {
		if t == taskType {
			return true
		}
	}
	return false
}

// fillTier greedily packs candidates into the remaining budget. Pinned
// items always go in; a soft cap of 0 means uncapped.
func fillTier(candidates []Candidate, softCap, remaining int, tokensOut *int, hitLimit *bool) ([]Candidate, int) {
	var injected []Candidate
	for _, c := range candidates {
		if softCap > 0 && len(injected) >= softCap && !c.Pinned {
			continue
		}
		tokens := estimateTokens(c.Content)
		if !c.Pinned && tokens > remaining {
			*hitLimit = true
			continue
		}
		injected = append(injected, c)
		*tokensOut += tokens
		remaining -= tokens
		if remaining < 0 {
			remaining = 0
		}
	}
	return injected, remaining
}

// estimateTokens is the chars/4 heuristic mandated for budget accounting.
func estimateTokens(text string) int {
	return len(text) / 4
}

func formatContext(pc *ProgressiveContext) string {
	if len(pc.Mandates) == 0 && len(pc.Guardrails) == 0 && len(pc.Reference) == 0 {
		return ""
	}

	var b strings.Builder
	if len(pc.Mandates) > 0 {
		b.WriteString("## Mandates\n")
		for _, c := range pc.Mandates {
			fmt.Fprintf(&b, "[M:%s] %s\n", c.UUID[:8], c.Content)
		}
		b.WriteByte('\n')
	}
	if len(pc.Guardrails) > 0 {
		b.WriteString("## Guardrails\n")
		for _, c := range pc.Guardrails {
			fmt.Fprintf(&b, "[G:%s] %s\n", c.UUID[:8], c.Content)
		}
		b.WriteByte('\n')
	}
	if len(pc.Reference) > 0 {
		b.WriteString("## Reference\n")
		for _, c := range pc.Reference {
			fmt.Fprintf(&b, "%s\n", c.Content)
		}
		b.WriteByte('\n')
	}
	b.WriteString(citationInstruction)
	return b.String()
}

func (inj *Injector) record(ctx context.Context, pc *ProgressiveContext, groupID, query string, opts InjectOptions, variant string, started time.Time) {
	uuids := pc.LoadedUUIDs()
	for _, uuid := range uuids {
		inj.buffer.IncrementLoaded(uuid, groupID)
	}

	if opts.Session != nil {
		opts.Session.RecordInjection(uuids)
		if err := opts.Session.Save(); err != nil {
			slog.Warn("Failed to persist session state", "session_id", opts.Session.SessionID, "error", err)
		}
	}

	if inj.log != nil {
		sessionID := ""
		if opts.Session != nil {
			sessionID = opts.Session.SessionID
		}
		metric := store.InjectionMetric{
			SessionID:      sessionID,
			GroupID:        groupID,
			ExternalID:     opts.ExternalID,
			Variant:        variant,
			Query:          query,
			MandateCount:   len(pc.Mandates),
			GuardrailCount: len(pc.Guardrails),
			ReferenceCount: len(pc.Reference),
			TokensUsed:     pc.TotalTokens,
			TokenBudget:    pc.BudgetUsage.TotalBudget,
			LatencyMS:      time.Since(started).Milliseconds(),
			LoadedUUIDs:    uuids,
		}
		if err := inj.log.RecordInjection(ctx, metric); err != nil {
			slog.Warn("Failed to record injection metric", "error", err)
		}
	}
	observability.GetGlobalMetrics().RecordInjection(ctx, string(opts.Scope),
		time.Since(started), pc.TotalTokens, len(uuids))
	pc.DebugInfo["latency_ms"] = time.Since(started).Milliseconds()
}
