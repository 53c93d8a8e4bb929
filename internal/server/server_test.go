package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"raidline/internal/catalog"
	"raidline/internal/db"
	"raidline/internal/engine"
	"raidline/internal/graph"
	"raidline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func testSnapshot() *catalog.Snapshot {
	return catalog.SnapshotFromData([]catalog.Task{
		{ID: "prereq", Name: "Debut"},
		{ID: "main", Name: "Checking", TaskRequirements: []catalog.TaskRequirement{{TaskID: "prereq"}}},
	}, []catalog.Station{
		{ID: "generator", Name: "Generator", Levels: []catalog.StationLevel{
			{ID: "gen-1", Level: 1, ConstructionTime: 100},
			{ID: "gen-2", Level: 2, ConstructionTime: 200,
				Requirements: []catalog.StationLevelRequirement{{StationID: "generator", Level: 1}}},
		}},
	})
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	snap := testSnapshot()
	tasks, err := graph.BuildTaskGraph(ctx, snap)
	if err != nil {
		t.Fatalf("task graph: %v", err)
	}
	hideout, err := graph.BuildHideoutGraph(ctx, snap)
	if err != nil {
		t.Fatalf("hideout graph: %v", err)
	}
	svc := graph.NewService(nil)
	svc.SetCurrent(snap, tasks, hideout)
	e := engine.New(conn, svc)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api/v2",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v2/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v2/progress", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", code)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/progress/task/prereq",
		map[string]any{"state": "completed"}, asActor("u1"))
	if res.StatusCode >= 300 {
		t.Fatalf("set task status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/progress", nil, asActor("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get progress status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Data struct {
			TasksProgress []struct {
				ID       string `json:"id"`
				Complete bool   `json:"complete"`
			} `json:"tasksProgress"`
		} `json:"data"`
		Meta struct {
			Self     string `json:"self"`
			GameMode string `json:"gameMode"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal progress: %v (%s)", err, string(data))
	}
	if envelope.Meta.Self != "u1" || envelope.Meta.GameMode != "pvp" {
		t.Fatalf("unexpected meta: %+v", envelope.Meta)
	}
	found := false
	for _, item := range envelope.Data.TasksProgress {
		if item.ID == "prereq" && item.Complete {
			found = true
		}
	}
	if !found {
		t.Fatalf("completed task missing from view: %s", string(data))
	}
}

func TestInvalidLevelRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v2/progress/level/0", nil, asActor("u1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for level 0, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_count" {
		t.Fatalf("expected code invalid_count, got %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v2/progress/level/abc", nil, asActor("u1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric level, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_count" {
		t.Fatalf("expected code invalid_count for non-numeric level, got %q", code)
	}
}

func TestTaskStateBodyRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v2/progress/task/prereq", nil, asActor("u1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnknownTaskStateRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v2/progress/task/prereq",
		map[string]any{"state": "done"}, asActor("u1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTeamFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/team/create", nil, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create team status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal team: %v (%s)", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/team/join",
		map[string]any{"id": created.ID, "password": "wrong"}, asActor("mate"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "wrong_password" {
		t.Fatalf("expected code wrong_password, got %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/team/join",
		map[string]any{"id": created.ID, "password": created.Password}, asActor("mate"))
	if res.StatusCode >= 300 {
		t.Fatalf("join status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/team", nil, asActor("mate"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get team status %d: %s", res.StatusCode, string(data))
	}
	var team struct {
		Members []string `json:"members"`
	}
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("unmarshal team: %v", err)
	}
	if len(team.Members) != 2 {
		t.Fatalf("expected 2 members, got %v", team.Members)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/team", nil, asActor("stranger"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for solo actor, got %d: %s", res.StatusCode, string(data))
	}

	// rejoin attempt conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/team/create", nil, asActor("mate"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 creating while in a team, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "team_conflict" {
		t.Fatalf("expected code team_conflict, got %q", code)
	}
}

func TestAPITokenAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/token",
		map[string]any{"note": "ci"}, asActor("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create token status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}
	if created.Token == "" {
		t.Fatalf("raw token should be returned once: %s", string(data))
	}

	// bearer auth falls back to stored API tokens for non-JWT values
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/progress", nil,
		map[string]string{"Authorization": "Bearer " + created.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer token auth status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Meta struct {
			Self string `json:"self"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal progress: %v", err)
	}
	if envelope.Meta.Self != "u1" {
		t.Fatalf("token should resolve to its actor, got %q", envelope.Meta.Self)
	}

	// X-Api-Key carries the same token
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/progress", nil,
		map[string]string{"X-Api-Key": created.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d", res.StatusCode)
	}

	// revoke, then the token no longer authenticates
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/v2/token/"+created.ID, nil, asActor("u1"))
	if res.StatusCode >= 300 {
		t.Fatalf("delete token status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/progress", nil,
		map[string]string{"Authorization": "Bearer " + created.Token})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token should be rejected, got %d", res.StatusCode)
	}
}

func TestEventsListed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v2/progress/task/prereq",
		map[string]any{"state": "completed"}, asActor("u1"))
	if res.StatusCode >= 300 {
		t.Fatalf("set task status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v2/events?limit=10", nil, asActor("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var items []struct {
		Type     string `json:"type"`
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal events: %v (%s)", err, string(data))
	}
	if len(items) == 0 {
		t.Fatalf("expected at least one event")
	}
	if items[0].Type != "progress.task" || items[0].EntityID != "prereq" {
		t.Fatalf("unexpected newest event: %+v", items[0])
	}
}
