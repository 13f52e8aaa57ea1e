package proposal

import (
	"fmt"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Category weights of the risk score. They sum to 1.
const (
	weightDataAccess     = 0.25
	weightExternalCalls  = 0.20
	weightResourceUsage  = 0.15
	weightSymbolCreation = 0.20
	weightPrivilege      = 0.20
)

// factor is one documented risk penalty. Each category sub-score is the
// sum of its matching factors, capped at 1.
type factor struct {
	name    string
	penalty float64
	applies func(def *store.AgentDefinition, src *store.DataSource) bool
}

var dataAccessFactors = []factor{
	{"oauth2_credentials", 0.30, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.Auth == "oauth2" }},
	{"api_key_credentials", 0.15, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.Auth == "api_key" }},
	{"external_endpoint", 0.20, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.URL != "" }},
	{"contains_pii", 0.40, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.Metadata["contains_pii"] == "true" }},
}

var externalCallFactors = []factor{
	{"web_scraping", 0.30, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.Type == "web_scraping" }},
	{"api_polling", 0.25, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.Type == "api" }},
	{"external_endpoint", 0.20, func(d *store.AgentDefinition, s *store.DataSource) bool { return s.URL != "" }},
}

var resourceUsageFactors = []factor{
	{"large_token_budget", 0.30, func(d *store.AgentDefinition, s *store.DataSource) bool { return d.ResourceLimits.TokenBudget >= 100_000 }},
	{"high_rate_limit", 0.20, func(d *store.AgentDefinition, s *store.DataSource) bool { return d.ResourceLimits.RateLimitPerMinute >= 30 }},
	{"long_timeout", 0.20, func(d *store.AgentDefinition, s *store.DataSource) bool { return d.ResourceLimits.TimeoutMs >= 300_000 }},
	{"unbounded_budget", 0.50, func(d *store.AgentDefinition, s *store.DataSource) bool { return d.ResourceLimits.TokenBudget == 0 }},
}

var symbolCreationFactors = []factor{
	{"creates_symbols", 0.30, func(d *store.AgentDefinition, s *store.DataSource) bool { return hasCapability(d, "symbol_creation") }},
	{"high_symbol_volume", 0.20, func(d *store.AgentDefinition, s *store.DataSource) bool { return d.ResourceLimits.MaxSymbolsCreated >= 50 }},
	{"unbounded_symbols", 0.40, func(d *store.AgentDefinition, s *store.DataSource) bool {
		return hasCapability(d, "symbol_creation") && d.ResourceLimits.MaxSymbolsCreated == 0
	}},
}

var privilegeFactors = []factor{
	{"delegation_spawn", 0.30, func(d *store.AgentDefinition, s *store.DataSource) bool { return hasCapability(d, "delegation_spawn") }},
	{"database_access", 0.25, func(d *store.AgentDefinition, s *store.DataSource) bool { return hasCapability(d, "database_access") }},
	{"broad_capabilities", 0.15, func(d *store.AgentDefinition, s *store.DataSource) bool { return len(d.RequiredCapabilities) > 3 }},
}

// assessRisk computes the weighted five-category risk assessment and the
// resulting approval routing.
func assessRisk(def *store.AgentDefinition, src *store.DataSource) store.RiskAssessment {
	var factors []string
	score := func(fs []factor) float64 {
		sum := 0.0
		for _, f := range fs {
			if f.applies(def, src) {
				sum += f.penalty
				factors = append(factors, fmt.Sprintf("%s (+%.2f)", f.name, f.penalty))
			}
		}
		if sum > 1 {
			sum = 1
		}
		return sum
	}

	risk := store.RiskAssessment{
		DataAccess:     score(dataAccessFactors),
		ExternalCalls:  score(externalCallFactors),
		ResourceUsage:  score(resourceUsageFactors),
		SymbolCreation: score(symbolCreationFactors),
		PrivilegeLevel: score(privilegeFactors),
		Factors:        factors,
	}
	risk.Score = weightDataAccess*risk.DataAccess +
		weightExternalCalls*risk.ExternalCalls +
		weightResourceUsage*risk.ResourceUsage +
		weightSymbolCreation*risk.SymbolCreation +
		weightPrivilege*risk.PrivilegeLevel

	switch {
	case risk.Score >= elevatedThreshold:
		risk.ApprovalLevel = ApprovalElevated
	case risk.Score >= humanThreshold || def.RequiresApproval:
		risk.ApprovalLevel = ApprovalHuman
	default:
		risk.ApprovalLevel = ApprovalAuto
	}
	return risk
}

func hasCapability(def *store.AgentDefinition, cap string) bool {
	for _, c := range def.RequiredCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}
