package config

import "fmt"

// CoreLimits enforces system-wide resource constraints (§5 resource caps):
// max cache entries, max history entries, and per-agent allocation limits
// consumed by the optional Resource Manager at ResourceAllocated hook points.
type CoreLimits struct {
	MaxCacheEntries       int `yaml:"max_cache_entries" json:"max_cache_entries"`
	MaxHistoryEntries     int `yaml:"max_history_entries" json:"max_history_entries"`
	MaxAgentMemoryMB      int `yaml:"max_agent_memory_mb" json:"max_agent_memory_mb"`
	MaxAgentConcurrency   int `yaml:"max_agent_concurrency" json:"max_agent_concurrency"`
	MaxAgentFileHandles   int `yaml:"max_agent_file_handles" json:"max_agent_file_handles"`
	MaxSessionDurationMin int `yaml:"max_session_duration_min" json:"max_session_duration_min"`
}

// ValidateCoreLimits checks that core limits are within acceptable ranges.
func (c *Config) ValidateCoreLimits() error {
	if c.CoreLimits.MaxCacheEntries < 1 {
		return fmt.Errorf("max_cache_entries must be >= 1")
	}
	if c.CoreLimits.MaxHistoryEntries < 1 {
		return fmt.Errorf("max_history_entries must be >= 1")
	}
	if c.CoreLimits.MaxAgentConcurrency < 1 {
		return fmt.Errorf("max_agent_concurrency must be >= 1")
	}
	return nil
}

// EnforceCoreLimits returns enforcement parameters for the Resource Manager.
// This ensures config values are actually consumed, not just stored.
func (c *Config) EnforceCoreLimits() map[string]int {
	return map[string]int{
		"max_cache_entries":     c.CoreLimits.MaxCacheEntries,
		"max_history_entries":   c.CoreLimits.MaxHistoryEntries,
		"max_agent_memory_mb":   c.CoreLimits.MaxAgentMemoryMB,
		"max_agent_concurrency": c.CoreLimits.MaxAgentConcurrency,
		"max_agent_file_handles": c.CoreLimits.MaxAgentFileHandles,
		"max_session_duration":  c.CoreLimits.MaxSessionDurationMin,
	}
}
