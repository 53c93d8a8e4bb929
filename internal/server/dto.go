package server

import (
	"raidline/internal/domain"
)

// Request payloads

type SetStateRequest struct {
	State string `json:"state" enum:"uncompleted,completed,failed"`
}

type SetObjectiveRequest struct {
	State *string `json:"state,omitempty" enum:"uncompleted,completed,failed"`
	Count *int    `json:"count,omitempty"`
}

type JoinTeamRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type HideMemberRequest struct {
	Hidden bool `json:"hidden"`
}

type CreateTokenRequest struct {
	Note string `json:"note,omitempty"`
}

// Response payloads

type ProgressMeta struct {
	Self     string `json:"self"`
	GameMode string `json:"gameMode,omitempty" enum:"pvp,pve"`
}

type ProgressEnvelope struct {
	Data domain.ProgressView `json:"data"`
	Meta ProgressMeta        `json:"meta"`
}

type TeamProgressEnvelope struct {
	Data            []domain.ProgressView `json:"data"`
	HiddenTeammates []string              `json:"hiddenTeammates"`
	Meta            ProgressMeta          `json:"meta"`
}

type BuildTimeResponse struct {
	ID      string `json:"id"`
	Seconds int64  `json:"seconds"`
}

type TeamResponse struct {
	ID             string   `json:"id"`
	Owner          string   `json:"owner"`
	Password       string   `json:"password"`
	MaximumMembers int      `json:"maximumMembers"`
	Members        []string `json:"members"`
	CreatedAt      string   `json:"createdAt" format:"date-time"`
}

type TokenCreatedResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Note  string `json:"note,omitempty"`
}

type TokenResponse struct {
	ID        string `json:"id"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
