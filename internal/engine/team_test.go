package engine_test

import (
	"errors"
	"testing"

	"raidline/internal/engine"
	"raidline/internal/repo"
)

func TestTeamLifecycle(t *testing.T) {
	env := newTestEnv(t)
	teamID, team, err := env.Engine.CreateTeam(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if team.Owner != "owner" || len(team.Members) != 1 {
		t.Fatalf("unexpected team: %+v", team)
	}
	if _, _, err := env.Engine.CreateTeam(env.Ctx, "owner"); !errors.Is(err, engine.ErrAlreadyInTeam) {
		t.Fatalf("expected ErrAlreadyInTeam, got %v", err)
	}

	if err := env.Engine.JoinTeam(env.Ctx, "mate", teamID, "wrong"); !errors.Is(err, engine.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, "mate", teamID, team.Password); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined, err := env.Engine.Repo.Team(env.Ctx, teamID)
	if err != nil || len(joined.Members) != 2 {
		t.Fatalf("expected 2 members, got %+v (%v)", joined, err)
	}

	// owner leaving disbands the team and clears everyone's pointer
	if err := env.Engine.LeaveTeam(env.Ctx, "owner"); err != nil {
		t.Fatalf("owner leave: %v", err)
	}
	if _, err := env.Engine.Repo.Team(env.Ctx, teamID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("team should be gone, got %v", err)
	}
	sys, err := env.Engine.Repo.System(env.Ctx, "mate")
	if err != nil || sys.TeamID != "" {
		t.Fatalf("member pointer should be cleared: %+v (%v)", sys, err)
	}
}

func TestJoinTeamCapacity(t *testing.T) {
	env := newTestEnv(t)
	teamID, team, err := env.Engine.CreateTeam(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < team.MaximumMembers-1; i++ {
		member := string(rune('a' + i))
		if err := env.Engine.JoinTeam(env.Ctx, member, teamID, team.Password); err != nil {
			t.Fatalf("join %s: %v", member, err)
		}
	}
	if err := env.Engine.JoinTeam(env.Ctx, "overflow", teamID, team.Password); !errors.Is(err, engine.ErrTeamFull) {
		t.Fatalf("expected ErrTeamFull, got %v", err)
	}
}

func TestKickMember(t *testing.T) {
	env := newTestEnv(t)
	teamID, team, err := env.Engine.CreateTeam(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, "mate", teamID, team.Password); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.Engine.KickMember(env.Ctx, "mate", "owner"); !errors.Is(err, engine.ErrNotTeamOwner) {
		t.Fatalf("expected ErrNotTeamOwner, got %v", err)
	}
	if err := env.Engine.KickMember(env.Ctx, "owner", "owner"); !errors.Is(err, engine.ErrCannotKickOwner) {
		t.Fatalf("expected ErrCannotKickOwner, got %v", err)
	}
	if err := env.Engine.KickMember(env.Ctx, "owner", "mate"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	sys, err := env.Engine.Repo.System(env.Ctx, "mate")
	if err != nil || sys.TeamID != "" {
		t.Fatalf("kicked member pointer should be cleared: %+v (%v)", sys, err)
	}
	if err := env.Engine.KickMember(env.Ctx, "owner", "mate"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound kicking a non-member, got %v", err)
	}
}

func TestTeamProgressHidesByMetadataOnly(t *testing.T) {
	env := newTestEnv(t)
	teamID, team, err := env.Engine.CreateTeam(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, "mate", teamID, team.Password); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.Engine.SetTaskState(env.Ctx, "mate", "prereq", "completed"); err != nil {
		t.Fatalf("mate progress: %v", err)
	}
	if err := env.Engine.HideTeammate(env.Ctx, "owner", "mate", true); err != nil {
		t.Fatalf("hide: %v", err)
	}

	tp, err := env.Engine.TeamProgress(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("team progress: %v", err)
	}
	if len(tp.Data) != 2 {
		t.Fatalf("hidden teammate data must stay in the result, got %d members", len(tp.Data))
	}
	if len(tp.HiddenTeammates) != 1 || tp.HiddenTeammates[0] != "mate" {
		t.Fatalf("expected mate in hiddenTeammates, got %v", tp.HiddenTeammates)
	}

	// unhide removes the metadata entry
	if err := env.Engine.HideTeammate(env.Ctx, "owner", "mate", false); err != nil {
		t.Fatalf("unhide: %v", err)
	}
	tp, err = env.Engine.TeamProgress(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("team progress: %v", err)
	}
	if len(tp.HiddenTeammates) != 0 {
		t.Fatalf("expected no hidden teammates, got %v", tp.HiddenTeammates)
	}
}

func TestTeamProgressSoloActor(t *testing.T) {
	env := newTestEnv(t)
	tp, err := env.Engine.TeamProgress(env.Ctx, "loner")
	if err != nil {
		t.Fatalf("team progress: %v", err)
	}
	if len(tp.Data) != 1 || tp.Data[0].UserID != "loner" {
		t.Fatalf("solo actor should aggregate alone, got %+v", tp.Data)
	}
}
