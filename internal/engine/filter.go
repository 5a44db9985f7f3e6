package engine

import (
	"path"
	"strings"

	"asmharvest/internal/config"
	"asmharvest/internal/registry"
)

// FilterPackages applies the include/exclude crate patterns and the
// max-packages cap, preserving registry order.
func FilterPackages(refs []registry.PackageRef, cfg *config.Config) []registry.PackageRef {
	if cfg == nil {
		panic("engine.FilterPackages: cfg must not be nil")
	}

	includePatterns := cfg.Registry.Include
	excludePatterns := cfg.Registry.Exclude

	var filtered []registry.PackageRef
	for _, r := range refs {
		// If Include is set, must match at least one
		if len(includePatterns) > 0 && !matchesAnyPattern(includePatterns, r.ID) {
			continue
		}
		if len(excludePatterns) > 0 && matchesAnyPattern(excludePatterns, r.ID) {
			continue
		}
		filtered = append(filtered, r)
	}

	if cfg.Registry.MaxPackages > 0 && len(filtered) > cfg.Registry.MaxPackages {
		filtered = filtered[:cfg.Registry.MaxPackages]
	}
	return filtered
}

func matchesAnyPattern(patterns []string, crate string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// Crate ids are case-insensitive on crates.io.
		if matched, _ := path.Match(strings.ToLower(p), strings.ToLower(crate)); matched {
			return true
		}
	}
	return false
}
