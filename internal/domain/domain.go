package domain

// Game modes. Accounts track two independent progress universes.
const (
	ModePvP = "pvp"
	ModePvE = "pve"
)

// Objective statuses accepted by the state machine.
const (
	StatusUncompleted = "uncompleted"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ValidStatus reports whether s is a recognized objective status.
func ValidStatus(s string) bool {
	switch s {
	case StatusUncompleted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidMode reports whether m names a game mode.
func ValidMode(m string) bool {
	return m == ModePvP || m == ModePvE
}

// Progress document buckets, one per objective kind.
const (
	BucketTasks          = "taskCompletions"
	BucketTaskObjectives = "taskObjectives"
	BucketHideoutModules = "hideoutModules"
	BucketHideoutParts   = "hideoutParts"
)

// ProgressItem is the flattened public shape of one objective's progress.
type ProgressItem struct {
	ID       string `json:"id"`
	Complete bool   `json:"complete"`
	Failed   bool   `json:"failed,omitempty"`
	Invalid  bool   `json:"invalid,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// ProgressView is the formatted per-actor progress returned by the API.
type ProgressView struct {
	TasksProgress          []ProgressItem `json:"tasksProgress"`
	TaskObjectivesProgress []ProgressItem `json:"taskObjectivesProgress"`
	HideoutModulesProgress []ProgressItem `json:"hideoutModulesProgress"`
	HideoutPartsProgress   []ProgressItem `json:"hideoutPartsProgress"`
	UserID                 string         `json:"userId"`
	DisplayName            string         `json:"displayName"`
	PlayerLevel            int            `json:"playerLevel"`
	GameEdition            int            `json:"gameEdition"`
	PMCFaction             string         `json:"pmcFaction"`
}

// TeamProgress is the team-wide aggregation for one requesting actor.
type TeamProgress struct {
	Data            []ProgressView `json:"data"`
	HiddenTeammates []string       `json:"hiddenTeammates"`
}

// SystemRecord is the per-actor system document: team membership pointer and
// per-actor visibility choices. Hiding only affects view metadata, never the
// hidden teammate's stored progress.
type SystemRecord struct {
	TeamID   string          `json:"team,omitempty"`
	TeamHide map[string]bool `json:"teamHide,omitempty"`
	Tokens   []string        `json:"tokens,omitempty"`
	LastSeen string          `json:"lastSeen,omitempty"`
}

// Team is a team document. The core consumes the resolved member list;
// password and capacity policy gate membership mutations only.
type Team struct {
	Owner          string   `json:"owner"`
	Password       string   `json:"password"`
	MaximumMembers int      `json:"maximumMembers"`
	Members        []string `json:"members"`
	CreatedAt      string   `json:"createdAt" format:"date-time"`
}

// APIToken is a stored bearer token granting an actor identity.
type APIToken struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
	TokenHash string `json:"token_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
