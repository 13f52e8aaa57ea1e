package registry

import (
	"sort"
	"strings"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// capabilityTools maps capability tags to the tools they unlock. Entries
// may be literal tool names or glob patterns; globs are honored on both
// the allow and deny side, with deny winning.
var capabilityTools = map[string][]string{
	"web_fetch":        {"WebFetch", "WebSearch"},
	"web_scraping":     {"WebFetch", "mcp__MCP_DOCKER__browser_*"},
	"api_integration":  {"WebFetch", "Bash"},
	"database_access":  {"mcp__MCP_DOCKER__db_*"},
	"file_processing":  {"Read", "Write", "Glob"},
	"symbol_creation":  {"mcp__promptspeak__define_symbol"},
	"delegation_spawn": {"Task"},
	"scheduling":       {"mcp__MCP_DOCKER__cron_*"},
}

// buildScope resolves an instance's scope from its definition and,
// when spawned by another instance, narrows it to the parent's. A child
// may only access what its parent may: allowed symbol patterns are
// intersected, denials are unioned.
func buildScope(def *store.AgentDefinition, parent *store.AgentInstance, defaultDepth int) store.Scope {
	sc := store.Scope{
		Namespace:          def.Namespace,
		MaxDelegationDepth: defaultDepth,
	}

	sc.AllowedSymbolPatterns = append(sc.AllowedSymbolPatterns, def.OutputPatterns...)
	if def.Namespace != "" {
		sc.AllowedSymbolPatterns = append(sc.AllowedSymbolPatterns, "Ξ.*."+def.Namespace+".*")
	}

	toolSet := make(map[string]struct{})
	for _, cap := range def.RequiredCapabilities {
		for _, tool := range capabilityTools[cap] {
			toolSet[tool] = struct{}{}
		}
	}
	for tool := range toolSet {
		sc.AllowedTools = append(sc.AllowedTools, tool)
	}
	sort.Strings(sc.AllowedTools)

	if parent != nil {
		sc.AllowedSymbolPatterns = intersectPatterns(sc.AllowedSymbolPatterns, parent.Scope.AllowedSymbolPatterns)
		sc.DeniedSymbolPatterns = unionStrings(sc.DeniedSymbolPatterns, parent.Scope.DeniedSymbolPatterns)
		sc.DeniedTools = unionStrings(sc.DeniedTools, parent.Scope.DeniedTools)
		if parent.Scope.MaxDelegationDepth > 0 {
			sc.MaxDelegationDepth = parent.Scope.MaxDelegationDepth
		}
	}
	return sc
}

// ToolAllowed reports whether the scope permits the tool. Denials win
// over allowances; an empty allow list permits nothing.
func ToolAllowed(sc store.Scope, tool string) bool {
	for _, p := range sc.DeniedTools {
		if globMatch(p, tool) {
			return false
		}
	}
	for _, p := range sc.AllowedTools {
		if globMatch(p, tool) {
			return true
		}
	}
	return false
}

// SymbolAllowed reports whether the scope permits touching the symbol
// path. Same deny-wins semantics as ToolAllowed.
func SymbolAllowed(sc store.Scope, symbol string) bool {
	for _, p := range sc.DeniedSymbolPatterns {
		if globMatch(p, symbol) {
			return false
		}
	}
	for _, p := range sc.AllowedSymbolPatterns {
		if globMatch(p, symbol) {
			return true
		}
	}
	return false
}

// globMatch matches name against a pattern where '*' spans any run of
// characters, including separators. Plain strings compare exactly.
func globMatch(pattern, name string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(name, parts[i])
		if idx < 0 {
			return false
		}
		name = name[idx+len(parts[i]):]
	}
	return strings.HasSuffix(name, parts[len(parts)-1])
}

// intersectPatterns keeps each child pattern only when the parent scope
// also covers it, either by an identical pattern or a parent glob that
// subsumes the child pattern.
func intersectPatterns(child, parent []string) []string {
	var out []string
	for _, c := range child {
		for _, p := range parent {
			if c == p || globMatch(p, c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
