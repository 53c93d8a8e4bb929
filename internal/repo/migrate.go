package repo

import (
	"raidline/internal/domain"
)

// Legacy records hold one flat progress collection at the top level with no
// mode selector. Migration moves every mode-scoped field into the pvp bucket
// (the mode legacy data represented), initializes pve to the default empty
// state, and leaves account-level fields (gameEdition) where they are.

var legacyModeFields = []string{
	"level",
	"displayName",
	"pmcFaction",
	domain.BucketTasks,
	domain.BucketTaskObjectives,
	domain.BucketHideoutModules,
	domain.BucketHideoutParts,
}

// DefaultModeState returns the empty progress state for one game mode.
func DefaultModeState() map[string]any {
	return map[string]any{
		"level":                     1,
		domain.BucketTasks:          map[string]any{},
		domain.BucketTaskObjectives: map[string]any{},
		domain.BucketHideoutModules: map[string]any{},
		domain.BucketHideoutParts:   map[string]any{},
	}
}

// NeedsMigration reports whether a progress document still carries the
// legacy flat shape. The check is conservative: a missing mode selector,
// a missing mode root object, or a legacy top-level field without its
// mode-scoped equivalent all trigger migration. Running it on an
// already-migrated record returns false.
func NeedsMigration(doc map[string]any) bool {
	if doc == nil {
		return true
	}
	if _, ok := doc["currentGameMode"]; !ok {
		return true
	}
	pvp, ok := doc[domain.ModePvP].(map[string]any)
	if !ok {
		return true
	}
	if _, ok := doc[domain.ModePvE].(map[string]any); !ok {
		return true
	}
	for _, field := range legacyModeFields {
		if _, legacy := doc[field]; legacy {
			if _, scoped := pvp[field]; !scoped {
				return true
			}
		}
	}
	return false
}

// MigrateRecord converts a legacy record to the dual-mode shape. It is
// lossless: every legacy field lands in exactly one slot of the result, and
// fields already migrated are preserved over stale legacy leftovers.
// Invoking it on its own output yields an identical record.
func MigrateRecord(doc map[string]any) map[string]any {
	out := map[string]any{"currentGameMode": domain.ModePvP}
	if mode, ok := doc["currentGameMode"].(string); ok && domain.ValidMode(mode) {
		out["currentGameMode"] = mode
	}

	pvp := map[string]any{}
	if existing, ok := doc[domain.ModePvP].(map[string]any); ok {
		for k, v := range existing {
			pvp[k] = v
		}
	}
	for _, field := range legacyModeFields {
		v, ok := doc[field]
		if !ok {
			continue
		}
		if _, scoped := pvp[field]; scoped {
			continue
		}
		pvp[field] = v
	}
	fillModeDefaults(pvp)

	pve := map[string]any{}
	if existing, ok := doc[domain.ModePvE].(map[string]any); ok {
		for k, v := range existing {
			pve[k] = v
		}
	}
	fillModeDefaults(pve)

	out[domain.ModePvP] = pvp
	out[domain.ModePvE] = pve

	for k, v := range doc {
		if k == "currentGameMode" || k == domain.ModePvP || k == domain.ModePvE {
			continue
		}
		if isLegacyModeField(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isLegacyModeField(key string) bool {
	for _, field := range legacyModeFields {
		if key == field {
			return true
		}
	}
	return false
}

func fillModeDefaults(mode map[string]any) {
	for k, v := range DefaultModeState() {
		if _, ok := mode[k]; !ok {
			mode[k] = v
		}
	}
}
