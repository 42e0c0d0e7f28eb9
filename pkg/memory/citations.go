package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// citationRe matches [M:xxxxxxxx] and [G:xxxxxxxx] markers, case-insensitive.
var citationRe = regexp.MustCompile(`(?i)\[([MG]):([a-f0-9]{8})\]`)

// Citation is one parsed marker.
type Citation struct {
	Tier   graph.Tier
	Prefix string // 8-char lowercase UUID prefix
}

// FormatCitation renders the inline marker for an episode.
func FormatCitation(episode *graph.Episode) string {
	marker := "M"
	if episode.InjectionTier == graph.TierGuardrail {
		marker = "G"
	}
	return fmt.Sprintf("[%s:%s]", marker, episode.ShortID())
}

// ParseCitations extracts all citation markers from assistant text,
// deduplicated in first-seen order.
func ParseCitations(text string) []Citation {
	seen := make(map[string]struct{})
	var citations []Citation
	for _, match := range citationRe.FindAllStringSubmatch(text, -1) {
		prefix := strings.ToLower(match[2])
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}

		tier := graph.TierMandate
		if strings.EqualFold(match[1], "G") {
			tier = graph.TierGuardrail
		}
		citations = append(citations, Citation{Tier: tier, Prefix: prefix})
	}
	return citations
}

// ResolveCitations maps parsed prefixes to full UUIDs within a group.
// Ambiguous prefixes are logged and skipped, unknown prefixes ignored.
func ResolveCitations(ctx context.Context, store graph.Store, groupID string, citations []Citation) []string {
	var uuids []string
	for _, citation := range citations {
		uuid, err := store.ResolvePrefix(ctx, groupID, citation.Prefix)
		if err != nil {
			var ambiguous *graph.AmbiguousPrefixError
			if errors.As(err, &ambiguous) {
				slog.Warn("Ambiguous citation prefix",
					"prefix", citation.Prefix, "group_id", groupID, "matches", ambiguous.Matches)
			}
			continue
		}
		uuids = append(uuids, uuid)
	}
	return uuids
}
