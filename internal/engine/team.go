package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"raidline/internal/docstore"
	"raidline/internal/domain"
	"raidline/internal/events"
	"raidline/internal/repo"
)

// Team membership errors surface to the caller; the progress core only ever
// consumes the resolved member list.
var (
	ErrAlreadyInTeam   = errors.New("actor already belongs to a team")
	ErrNotInTeam       = errors.New("actor does not belong to a team")
	ErrTeamFull        = errors.New("team is full")
	ErrWrongPassword   = errors.New("invalid team password")
	ErrNotTeamOwner    = errors.New("only the team owner can do that")
	ErrCannotKickOwner = errors.New("the team owner cannot be kicked")
)

const defaultTeamCapacity = 5

// CreateTeam creates a team owned by the actor and joins them to it.
func (e Engine) CreateTeam(ctx context.Context, actorID string) (string, domain.Team, error) {
	sys, err := e.Repo.System(ctx, actorID)
	if err != nil {
		return "", domain.Team{}, err
	}
	if sys.TeamID != "" {
		return "", domain.Team{}, ErrAlreadyInTeam
	}
	teamID := uuid.New().String()
	team := domain.Team{
		Owner:          actorID,
		Password:       uuid.New().String(),
		MaximumMembers: defaultTeamCapacity,
		Members:        []string{actorID},
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.SaveTeam(ctx, teamID, team); err != nil {
		return "", domain.Team{}, err
	}
	if err := e.Repo.UpdateSystem(ctx, actorID, map[string]any{"team": teamID}); err != nil {
		return "", domain.Team{}, err
	}
	if err := e.Events.Append(ctx, "team.created", actorID, "team", teamID, nil); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	return teamID, team, nil
}

// JoinTeam adds the actor to an existing team after checking password and
// capacity.
func (e Engine) JoinTeam(ctx context.Context, actorID, teamID, password string) error {
	sys, err := e.Repo.System(ctx, actorID)
	if err != nil {
		return err
	}
	if sys.TeamID != "" {
		return ErrAlreadyInTeam
	}
	team, err := e.Repo.Team(ctx, teamID)
	if err != nil {
		return err
	}
	if team.Password != password {
		return ErrWrongPassword
	}
	for _, member := range team.Members {
		if member == actorID {
			return ErrAlreadyInTeam
		}
	}
	if team.MaximumMembers > 0 && len(team.Members) >= team.MaximumMembers {
		return ErrTeamFull
	}
	team.Members = append(team.Members, actorID)
	if err := e.Repo.SaveTeam(ctx, teamID, team); err != nil {
		return err
	}
	if err := e.Repo.UpdateSystem(ctx, actorID, map[string]any{"team": teamID}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "team.joined", actorID, "team", teamID, nil); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	return nil
}

// LeaveTeam removes the actor from their team. When the owner leaves, the
// team disbands; remaining members revert to solo.
func (e Engine) LeaveTeam(ctx context.Context, actorID string) error {
	sys, err := e.Repo.System(ctx, actorID)
	if err != nil {
		return err
	}
	if sys.TeamID == "" {
		return ErrNotInTeam
	}
	team, err := e.Repo.Team(ctx, sys.TeamID)
	if errors.Is(err, repo.ErrNotFound) {
		// Dangling pointer; clear it and move on.
		return e.Repo.UpdateSystem(ctx, actorID, map[string]any{"team": docstore.Delete})
	}
	if err != nil {
		return err
	}
	if team.Owner == actorID {
		for _, member := range team.Members {
			if err := e.Repo.UpdateSystem(ctx, member, map[string]any{"team": docstore.Delete}); err != nil {
				return fmt.Errorf("clear membership for %s: %w", member, err)
			}
		}
		if err := e.Repo.DeleteTeam(ctx, sys.TeamID); err != nil {
			return err
		}
	} else {
		team.Members = removeMember(team.Members, actorID)
		if err := e.Repo.SaveTeam(ctx, sys.TeamID, team); err != nil {
			return err
		}
		if err := e.Repo.UpdateSystem(ctx, actorID, map[string]any{"team": docstore.Delete}); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, "team.left", actorID, "team", sys.TeamID, nil); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	return nil
}

// KickMember removes another member from the actor's team. Owner only.
func (e Engine) KickMember(ctx context.Context, actorID, memberID string) error {
	sys, err := e.Repo.System(ctx, actorID)
	if err != nil {
		return err
	}
	if sys.TeamID == "" {
		return ErrNotInTeam
	}
	team, err := e.Repo.Team(ctx, sys.TeamID)
	if err != nil {
		return err
	}
	if team.Owner != actorID {
		return ErrNotTeamOwner
	}
	if memberID == team.Owner {
		return ErrCannotKickOwner
	}
	if !containsMember(team.Members, memberID) {
		return repo.ErrNotFound
	}
	team.Members = removeMember(team.Members, memberID)
	if err := e.Repo.SaveTeam(ctx, sys.TeamID, team); err != nil {
		return err
	}
	if err := e.Repo.UpdateSystem(ctx, memberID, map[string]any{"team": docstore.Delete}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "team.kicked", actorID, "team", sys.TeamID, events.EventPayload{"member": memberID}); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	return nil
}

// HideTeammate toggles visibility metadata for one teammate in the actor's
// team view. The underlying records are never filtered.
func (e Engine) HideTeammate(ctx context.Context, actorID, memberID string, hidden bool) error {
	var value any = true
	if !hidden {
		value = docstore.Delete
	}
	return e.Repo.UpdateSystem(ctx, actorID, map[string]any{"teamHide." + memberID: value})
}

func removeMember(members []string, id string) []string {
	out := members[:0]
	for _, m := range members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

func containsMember(members []string, id string) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}
