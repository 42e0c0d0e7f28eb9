package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// Learning status values carried in the source-description tag string.
const (
	StatusProvisional = "provisional"
	StatusCanonical   = "canonical"
)

// SourceTags is the parsed form of an episode's source_description string.
// The string is a space-delimited tag grammar; tokens without a colon are
// the category and tier. It survives as the read-path fallback for backends
// without typed properties; first-class properties are authoritative.
type SourceTags struct {
	Category     string
	Tier         graph.Tier
	Source       string
	Confidence   int
	AntiPattern  bool
	ClusterID    string
	MigratedFrom string
	Status       string
	Promoted     string
	Context      string
}

// Format renders the tag string:
//
//	<category> <tier> source:<origin> confidence:<0-100>
//	  [type:anti_pattern] [cluster:<id>] [migrated_from:<file>]
//	  [status:provisional|canonical] [promoted:<reason>] [context:<text>]
func (t SourceTags) Format() string {
	parts := []string{t.Category, string(t.Tier)}
	if t.Source != "" {
		parts = append(parts, "source:"+t.Source)
	}
	parts = append(parts, "confidence:"+strconv.Itoa(t.Confidence))
	if t.AntiPattern {
		parts = append(parts, "type:anti_pattern")
	}
	if t.ClusterID != "" {
		parts = append(parts, "cluster:"+t.ClusterID)
	}
	if t.MigratedFrom != "" {
		parts = append(parts, "migrated_from:"+t.MigratedFrom)
	}
	if t.Status != "" {
		parts = append(parts, "status:"+t.Status)
	}
	if t.Promoted != "" {
		parts = append(parts, "promoted:"+t.Promoted)
	}
	if t.Context != "" {
		context := t.Context
		if len(context) > 100 {
			context = context[:100]
		}
		parts = append(parts, "context:"+strings.ReplaceAll(context, " ", "_"))
	}
	return strings.Join(parts, " ")
}

// ParseSourceTags parses a tag string. Unknown tokens are ignored; the first
// two bare tokens are category and tier.
func ParseSourceTags(s string) SourceTags {
	var tags SourceTags
	bare := 0
	for _, token := range strings.Fields(s) {
		key, value, found := strings.Cut(token, ":")
		if !found {
			switch bare {
			case 0:
				tags.Category = token
			case 1:
				tags.Tier = graph.Tier(token)
			}
			bare++
			continue
		}
		switch key {
		case "source":
			tags.Source = value
		case "confidence":
			if n, err := strconv.Atoi(value); err == nil {
				tags.Confidence = n
			}
		case "type":
			if value == "anti_pattern" {
				tags.AntiPattern = true
			}
		case "cluster":
			tags.ClusterID = value
		case "migrated_from":
			tags.MigratedFrom = value
		case "status":
			tags.Status = value
		case "promoted":
			tags.Promoted = value
		case "context":
			tags.Context = strings.ReplaceAll(value, "_", " ")
		}
	}
	return tags
}

// WithStatus returns a copy of the tag string with the status field
// rewritten, used by learning promotion.
func WithStatus(sourceDescription, status, promotedReason string) string {
	tags := ParseSourceTags(sourceDescription)
	tags.Status = status
	if promotedReason != "" {
		tags.Promoted = promotedReason
	}
	return tags.Format()
}

// WithConfidence returns a copy of the tag string with confidence replaced,
// used by learning reinforcement.
func WithConfidence(sourceDescription string, confidence int) string {
	tags := ParseSourceTags(sourceDescription)
	tags.Confidence = confidence
	return tags.Format()
}

func (t SourceTags) String() string {
	return fmt.Sprintf("SourceTags(%s %s conf=%d status=%s)", t.Category, t.Tier, t.Confidence, t.Status)
}
