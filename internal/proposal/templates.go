package proposal

import (
	"strings"
	"time"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// template shapes the definition synthesized for a source type.
type template struct {
	idPrefix string
	category string
	required []string
	frame    string
	limits   store.ResourceLimits
	estimate store.ResourceEstimate
	purpose  string
}

// templates is keyed by DataSource.Type.
var templates = map[string]template{
	"web_scraping": {
		idPrefix: "agent.scraper",
		category: "data_acquisition",
		required: []string{"web_scraping", "symbol_creation"},
		frame:    "⊘◇▼",
		limits: store.ResourceLimits{
			RateLimitPerMinute: 30,
			TokenBudget:        100_000,
			TimeoutMs:          300_000,
			MaxSymbolsCreated:  100,
		},
		estimate: store.ResourceEstimate{
			Tokens:      store.Triplet{Min: 5_000, Typical: 30_000, Max: 100_000},
			ExecutionMs: store.Triplet{Min: 10_000, Typical: 60_000, Max: 300_000},
			Symbols:     store.Triplet{Min: 5, Typical: 30, Max: 100},
		},
		purpose: "scrape and normalize content from",
	},
	"api": {
		idPrefix: "agent.api",
		category: "data_acquisition",
		required: []string{"api_integration", "symbol_creation"},
		frame:    "⊘◇▶",
		limits: store.ResourceLimits{
			RateLimitPerMinute: 60,
			TokenBudget:        50_000,
			TimeoutMs:          120_000,
			MaxSymbolsCreated:  50,
		},
		estimate: store.ResourceEstimate{
			Tokens:      store.Triplet{Min: 2_000, Typical: 15_000, Max: 50_000},
			ExecutionMs: store.Triplet{Min: 2_000, Typical: 20_000, Max: 120_000},
			Symbols:     store.Triplet{Min: 2, Typical: 15, Max: 50},
		},
		purpose: "poll and ingest records from",
	},
	"database": {
		idPrefix: "agent.db",
		category: "data_processing",
		required: []string{"database_access", "symbol_creation"},
		frame:    "⊕◇◎",
		limits: store.ResourceLimits{
			RateLimitPerMinute: 30,
			TokenBudget:        50_000,
			TimeoutMs:          120_000,
			MaxSymbolsCreated:  50,
		},
		estimate: store.ResourceEstimate{
			Tokens:      store.Triplet{Min: 2_000, Typical: 10_000, Max: 50_000},
			ExecutionMs: store.Triplet{Min: 1_000, Typical: 15_000, Max: 120_000},
			Symbols:     store.Triplet{Min: 2, Typical: 10, Max: 50},
		},
		purpose: "query and mirror tables from",
	},
	"file_feed": {
		idPrefix: "agent.filefeed",
		category: "data_acquisition",
		required: []string{"file_processing", "symbol_creation"},
		frame:    "⊘◇◎",
		limits: store.ResourceLimits{
			RateLimitPerMinute: 10,
			TokenBudget:        20_000,
			TimeoutMs:          60_000,
			MaxSymbolsCreated:  20,
		},
		estimate: store.ResourceEstimate{
			Tokens:      store.Triplet{Min: 1_000, Typical: 5_000, Max: 20_000},
			ExecutionMs: store.Triplet{Min: 500, Typical: 5_000, Max: 60_000},
			Symbols:     store.Triplet{Min: 1, Typical: 5, Max: 20},
		},
		purpose: "parse and index files from",
	},
}

// definition synthesizes the agent definition. The id is deterministic
// so re-proposing the same source yields the same agent id.
func (t template) definition(source *store.DataSource, now time.Time) store.AgentDefinition {
	namespace := source.Metadata["namespace"]
	if namespace == "" {
		namespace = sanitizeID(source.Name)
	}
	return store.AgentDefinition{
		ID:                   t.idPrefix + "." + sanitizeID(source.ID),
		Name:                 source.Name + " agent",
		Version:              "1.0.0",
		Purpose:              t.purpose + " " + source.Name,
		Category:             t.category,
		DataSources:          []string{source.ID},
		RequiredCapabilities: append([]string{}, t.required...),
		OutputPatterns:       []string{"Ξ.raw." + namespace + ".*"},
		ResourceLimits:       t.limits,
		Frame:                t.frame,
		Namespace:            namespace,
		Template:             source.Type,
		CreatedAt:            now,
	}
}

// sanitizeID lowercases and squashes anything outside [a-z0-9] into
// underscores, dropping the src_ prefix data sources carry.
func sanitizeID(raw string) string {
	raw = strings.TrimPrefix(strings.ToLower(raw), "src_")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
