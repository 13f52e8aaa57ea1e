package registry

import (
	"fmt"
	"time"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Quota resource names.
const (
	ResourceRate    = "rateLimitPerMinute"
	ResourceTokens  = "tokenBudget"
	ResourceTime    = "timeoutMs"
	ResourceSymbols = "maxSymbolsCreated"
)

// rateWindow is the rolling window for the per-minute rate limit.
const rateWindow = time.Minute

// QuotaResult is the outcome of a quota check. Remaining is -1 when the
// resource is unlimited.
type QuotaResult struct {
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// CheckQuota verifies that the instance can spend amount of the named
// resource. The rate limit is a 60-second rolling window; the other
// resources are cumulative counters against the definition's limits.
// A zero limit means unlimited.
func (r *Registry) CheckQuota(instanceID, resource string, amount int64) QuotaResult {
	r.mu.RLock()
	st, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return QuotaResult{Allowed: false, Reason: "unknown instance " + instanceID}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch resource {
	case ResourceRate:
		limit := int64(st.limits.RateLimitPerMinute)
		if limit <= 0 {
			return QuotaResult{Allowed: true, Remaining: -1}
		}
		st.pruneWindow(r.now())
		used := int64(len(st.opTimes))
		return boundedResult(used, amount, limit, "rate limit exceeded")
	case ResourceTokens:
		if st.limits.TokenBudget <= 0 {
			return QuotaResult{Allowed: true, Remaining: -1}
		}
		return boundedResult(st.inst.Usage.TokensUsed, amount, st.limits.TokenBudget, "token budget exhausted")
	case ResourceTime:
		if st.limits.TimeoutMs <= 0 {
			return QuotaResult{Allowed: true, Remaining: -1}
		}
		return boundedResult(st.inst.Usage.ExecutionMs, amount, st.limits.TimeoutMs, "execution time budget exhausted")
	case ResourceSymbols:
		limit := int64(st.limits.MaxSymbolsCreated)
		if limit <= 0 {
			return QuotaResult{Allowed: true, Remaining: -1}
		}
		return boundedResult(int64(st.inst.Usage.SymbolsCreated), amount, limit, "symbol creation limit reached")
	default:
		return QuotaResult{Allowed: false, Reason: "unknown resource " + resource}
	}
}

func boundedResult(used, amount, limit int64, reason string) QuotaResult {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	if used+amount > limit {
		return QuotaResult{Allowed: false, Remaining: remaining, Reason: reason}
	}
	return QuotaResult{Allowed: true, Remaining: remaining - amount}
}

// RecordUsage adds the delta to the instance's counters atomically and
// stamps one operation into the rate window. Write-through to the store
// is best-effort.
func (r *Registry) RecordUsage(instanceID string, delta store.ResourceUsage) error {
	r.mu.RLock()
	st, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}

	st.mu.Lock()
	now := r.now()
	st.pruneWindow(now)
	st.opTimes = append(st.opTimes, now)
	st.inst.Usage.TokensUsed += delta.TokensUsed
	st.inst.Usage.ExecutionMs += delta.ExecutionMs
	st.inst.Usage.SymbolsCreated += delta.SymbolsCreated
	st.inst.Usage.OperationCount++
	st.inst.UpdatedAt = now
	usage := st.inst.Usage
	st.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateInstanceUsage(instanceID, usage); err != nil {
			r.logger.Error("failed to persist usage", "instance_id", instanceID, "error", err)
		}
	}
	return nil
}

func (st *instanceState) pruneWindow(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(st.opTimes) && !st.opTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.opTimes = st.opTimes[i:]
	}
}

