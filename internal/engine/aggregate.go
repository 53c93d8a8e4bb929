package engine

import (
	"context"
	"errors"
	"sort"

	"raidline/internal/domain"
	"raidline/internal/repo"
)

// GetProgress returns the actor's formatted progress. A missing record
// formats as the default empty state: progress documents materialize on
// first write, so a fresh actor simply has nothing completed yet.
func (e Engine) GetProgress(ctx context.Context, actorID string) (domain.ProgressView, error) {
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return domain.ProgressView{}, err
	}
	return formatProgress(actorID, doc), nil
}

// TeamProgress aggregates the progress of the actor's team. The member list
// is the deduplicated union of the team's members and the requester; actors
// without a stored record are omitted with a warning rather than failing the
// whole aggregation. Hidden teammates are reported as metadata only — their
// data stays in the result.
func (e Engine) TeamProgress(ctx context.Context, actorID string) (domain.TeamProgress, error) {
	out := domain.TeamProgress{
		Data:            []domain.ProgressView{},
		HiddenTeammates: []string{},
	}
	sys, err := e.Repo.System(ctx, actorID)
	if err != nil {
		return out, err
	}

	memberIDs := []string{actorID}
	if sys.TeamID != "" {
		team, err := e.Repo.Team(ctx, sys.TeamID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().Warn("team record missing; aggregating solo", "actor", actorID, "team", sys.TeamID)
		} else if err != nil {
			return out, err
		} else {
			memberIDs = unionMembers(team.Members, actorID)
		}
	}

	for _, memberID := range memberIDs {
		doc, err := e.Repo.Progress(ctx, memberID)
		if errors.Is(err, repo.ErrNotFound) {
			if memberID != actorID {
				e.logger().Warn("teammate progress record missing; omitted from team view",
					"actor", actorID, "teammate", memberID)
				continue
			}
			doc = repo.MigrateRecord(map[string]any{})
		} else if err != nil {
			return out, err
		}
		out.Data = append(out.Data, formatProgress(memberID, doc))
	}

	for _, memberID := range memberIDs {
		if memberID == actorID {
			continue
		}
		if sys.TeamHide[memberID] {
			out.HiddenTeammates = append(out.HiddenTeammates, memberID)
		}
	}
	return out, nil
}

// unionMembers keeps the team's member order and guarantees the requester
// appears exactly once.
func unionMembers(members []string, actorID string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(members)+1)
	for _, id := range members {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if !seen[actorID] {
		out = append(out, actorID)
	}
	return out
}

// formatProgress flattens a stored dual-mode document into the public
// progress shape for the actor's current game mode.
func formatProgress(actorID string, doc map[string]any) domain.ProgressView {
	mode := currentMode(doc)
	modeDoc, _ := doc[mode].(map[string]any)

	view := domain.ProgressView{
		TasksProgress:          flattenBucket(modeDoc, domain.BucketTasks),
		TaskObjectivesProgress: flattenBucket(modeDoc, domain.BucketTaskObjectives),
		HideoutModulesProgress: flattenBucket(modeDoc, domain.BucketHideoutModules),
		HideoutPartsProgress:   flattenBucket(modeDoc, domain.BucketHideoutParts),
		UserID:                 actorID,
		DisplayName:            stringField(modeDoc, "displayName"),
		PlayerLevel:            intField(modeDoc, "level"),
		GameEdition:            intField(doc, "gameEdition"),
		PMCFaction:             stringField(modeDoc, "pmcFaction"),
	}
	if view.DisplayName == "" {
		view.DisplayName = defaultDisplayName(actorID)
	}
	if view.PlayerLevel < 1 {
		view.PlayerLevel = 1
	}
	if view.GameEdition < 1 {
		view.GameEdition = 1
	}
	if view.PMCFaction == "" {
		view.PMCFaction = "USEC"
	}
	return view
}

func flattenBucket(modeDoc map[string]any, bucket string) []domain.ProgressItem {
	items := []domain.ProgressItem{}
	if modeDoc == nil {
		return items
	}
	entries, ok := modeDoc[bucket].(map[string]any)
	if !ok {
		return items
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry, ok := entries[id].(map[string]any)
		if !ok {
			continue
		}
		item := domain.ProgressItem{
			ID:       id,
			Complete: boolField(entry, "complete"),
			Failed:   boolField(entry, "failed"),
			Invalid:  boolField(entry, "invalid"),
			Count:    intField(entry, "count"),
		}
		items = append(items, item)
	}
	return items
}

func defaultDisplayName(actorID string) string {
	if len(actorID) > 6 {
		return actorID[:6]
	}
	return actorID
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, _ := m[key].(bool)
	return v
}

// intField reads a numeric field. Stored documents round-trip through JSON,
// so numbers may arrive as float64 or as native ints from fresh writes.
func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
