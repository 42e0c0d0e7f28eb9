package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
)

func memCfg() config.MemoryConfig {
	cfg := config.MemoryConfig{}
	cfg.SetDefaults()
	return cfg
}

func addTiered(t *testing.T, store graph.Store, groupID, content string, tier graph.Tier, props map[string]any) string {
	t.Helper()
	properties := map[string]any{
		"injection_tier": tier,
		"vector_indexed": true,
	}
	for k, v := range props {
		properties[k] = v
	}
	name := content
	if len(name) > 20 {
		name = name[:20]
	}
	result, err := store.AddEpisode(context.Background(), graph.AddEpisodeRequest{
		Name:              name,
		EpisodeBody:       content,
		SourceType:        "text",
		SourceDescription: "manual " + string(tier) + " source:manual confidence:90",
		ReferenceTime:     time.Now(),
		GroupID:           groupID,
		Properties:        properties,
	})
	require.NoError(t, err)
	return result.EpisodeUUID
}

func TestInjectBuildsThreeBlocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	query := "database queries use prepared statements everywhere"

	mandateUUID := addTiered(t, store, "project-acme",
		"Database queries always use prepared statements", graph.TierMandate, nil)
	guardrailUUID := addTiered(t, store, "project-acme",
		"Never interpolate user input into database queries", graph.TierGuardrail, nil)
	refUUID := addTiered(t, store, "global",
		"Prepared statements cache query plans across database calls", graph.TierReference, nil)

	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	injector := NewInjector(store, buffer, nil, memCfg())

	pc, err := injector.Inject(ctx, query, InjectOptions{
		Scope:           ScopeProject,
		ScopeID:         "acme",
		VariantOverride: VariantBaseline,
	})
	require.NoError(t, err)

	require.Len(t, pc.Mandates, 1)
	require.Len(t, pc.Guardrails, 1)
	require.Len(t, pc.Reference, 1)

	assert.Contains(t, pc.Text, "## Mandates")
	assert.Contains(t, pc.Text, "## Guardrails")
	assert.Contains(t, pc.Text, "## Reference")
	assert.Contains(t, pc.Text, "[M:"+mandateUUID[:8]+"]")
	assert.Contains(t, pc.Text, "[G:"+guardrailUUID[:8]+"]")
	assert.Contains(t, pc.Text, citationInstruction)

	// Reference block carries content without citation markers.
	assert.NotContains(t, pc.Text, refUUID[:8])

	usage := pc.BudgetUsage
	assert.Equal(t, 1, usage.MandatesInjected)
	assert.Equal(t, 1, usage.GuardrailsInjected)
	assert.Equal(t, 1, usage.ReferenceInjected)
	assert.False(t, usage.HitLimit)
	assert.Equal(t, usage.TotalBudget-pc.TotalTokens, usage.Remaining)

	// Every injected UUID got a pending loaded increment.
	assert.Equal(t, 3, buffer.PendingCount())
	assert.ElementsMatch(t, []string{mandateUUID, guardrailUUID, refUUID}, pc.LoadedUUIDs())
}

func TestInjectRecordsSession(t *testing.T) {
	store := newTestStore(t)
	addTiered(t, store, "global", "Logs are structured JSON", graph.TierMandate, nil)

	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	injector := NewInjector(store, buffer, nil, memCfg())

	session := NewSessionState(ScopeGlobal, "")
	session.dir = t.TempDir()

	_, err := injector.Inject(context.Background(), "structured JSON logs", InjectOptions{
		Scope:           ScopeGlobal,
		Session:         session,
		VariantOverride: VariantBaseline,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, session.InjectionCount)
	assert.NotNil(t, session.LastInjectionAt)
	assert.NotEmpty(t, session.LoadedMemoryUUIDs)
}

func TestInjectBudgetPinnedBypass(t *testing.T) {
	store := newTestStore(t)
	long := "Never store credentials in source control or configuration files committed to the repository under any circumstances whatsoever"
	pinnedUUID := addTiered(t, store, "global", long+" pinned variant", graph.TierMandate,
		map[string]any{"pinned": true})
	addTiered(t, store, "global", long+" unpinned variant", graph.TierMandate, nil)

	cfg := memCfg()
	cfg.TokenBudget = 10 // far below either mandate's size
	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	injector := NewInjector(store, buffer, nil, cfg)

	pc, err := injector.Inject(context.Background(), "credentials source control", InjectOptions{
		Scope:           ScopeGlobal,
		VariantOverride: VariantBaseline,
	})
	require.NoError(t, err)

	require.Len(t, pc.Mandates, 1, "only the pinned mandate fits")
	assert.Equal(t, pinnedUUID, pc.Mandates[0].UUID)
	assert.True(t, pc.Mandates[0].Pinned)
	assert.True(t, pc.BudgetUsage.HitLimit)
}

func TestInjectTaskTypeElevation(t *testing.T) {
	store := newTestStore(t)
	uuid := addTiered(t, store, "global",
		"Migration scripts run inside a transaction", graph.TierGuardrail,
		map[string]any{"trigger_task_types": []string{"migration"}})

	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	injector := NewInjector(store, buffer, nil, memCfg())

	withTask, err := injector.Inject(context.Background(), "database change", InjectOptions{
		Scope:           ScopeGlobal,
		TaskType:        "migration",
		VariantOverride: VariantBaseline,
	})
	require.NoError(t, err)

	var boosted *Candidate
	for i := range withTask.Guardrails {
		if withTask.Guardrails[i].UUID == uuid {
			boosted = &withTask.Guardrails[i]
		}
	}
	require.NotNil(t, boosted)
	assert.True(t, boosted.HasTagMatch)
}

func TestInjectEmptyStore(t *testing.T) {
	store := newTestStore(t)
	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	injector := NewInjector(store, buffer, nil, memCfg())

	pc, err := injector.Inject(context.Background(), "anything", InjectOptions{Scope: ScopeGlobal})
	require.NoError(t, err)
	assert.Empty(t, pc.Text)
	assert.Zero(t, pc.TotalTokens)
	assert.Equal(t, 0, buffer.PendingCount())
}
