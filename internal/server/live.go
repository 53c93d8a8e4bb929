package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"raidline/internal/engine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveFrame is one pushed notification about a committed mutation.
type liveFrame struct {
	Type    string         `json:"type"`
	ActorID string         `json:"actorId"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}

// liveConn serializes writes to one websocket connection. The websocket
// transport forbids concurrent writers, and one connection receives frames
// from every mutating teammate at once.
type liveConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *liveConn) writeFrame(frame liveFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

// liveFeed pushes committed progress mutations to the mutating actor's
// open connections and to those of every current teammate. A failed or
// missing connection never affects the mutation itself.
type liveFeed struct {
	engine engine.Engine
	mu     sync.Mutex
	conns  map[string]map[*liveConn]bool
}

func newLiveFeed(e engine.Engine) *liveFeed {
	return &liveFeed{
		engine: e,
		conns:  make(map[string]map[*liveConn]bool),
	}
}

func (f *liveFeed) register(actorID string, conn *liveConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.conns[actorID]
	if set == nil {
		set = make(map[*liveConn]bool)
		f.conns[actorID] = set
	}
	set[conn] = true
}

func (f *liveFeed) unregister(actorID string, conn *liveConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set := f.conns[actorID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(f.conns, actorID)
		}
	}
}

func (f *liveFeed) broadcast(ctx context.Context, actorID, evtType string, payload map[string]any) {
	f.broadcastTo(f.audience(ctx, actorID), actorID, evtType, payload)
}

// broadcastTo sends one frame to the given actors' connections. The primary
// write has already committed by the time this runs, so nothing in here may
// unwind into the handler.
func (f *liveFeed) broadcastTo(members []string, actorID, evtType string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("live feed broadcast recovered", "actor", actorID, "type", evtType, "panic", r)
		}
	}()
	if len(members) == 0 {
		return
	}
	frame := liveFrame{
		Type:    evtType,
		ActorID: actorID,
		TS:      time.Now().UTC().Format(time.RFC3339),
		Payload: payload,
	}
	f.mu.Lock()
	var targets []*liveConn
	for _, member := range members {
		for conn := range f.conns[member] {
			targets = append(targets, conn)
		}
	}
	f.mu.Unlock()
	for _, conn := range targets {
		_ = conn.writeFrame(frame)
	}
}

// audience resolves who should see a mutation: the actor plus the
// members of the actor's current team, when there is one.
func (f *liveFeed) audience(ctx context.Context, actorID string) []string {
	sys, err := f.engine.Repo.System(ctx, actorID)
	if err != nil || sys.TeamID == "" {
		return []string{actorID}
	}
	team, err := f.engine.Repo.Team(ctx, sys.TeamID)
	if err != nil {
		return []string{actorID}
	}
	members := append([]string(nil), team.Members...)
	for _, m := range members {
		if m == actorID {
			return members
		}
	}
	return append(members, actorID)
}

func registerLive(r chi.Router, basePath string, feed *liveFeed) {
	r.Get(path.Join(basePath, "live"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok || principal.ActorID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		conn := &liveConn{ws: ws}
		feed.register(principal.ActorID, conn)
		defer func() {
			feed.unregister(principal.ActorID, conn)
			ws.Close()
		}()
		// Inbound frames are ignored; the read loop only detects close.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
}
