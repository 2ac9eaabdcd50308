package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func tokenFor(t *testing.T, subject, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"name":  subject,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
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

func auth(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokenFor(t, subject, subject+"@example.com")}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("bad error envelope %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthenticated" {
		t.Fatalf("code %q", code)
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := auth(t, "alice")

	// first contact creates the profile
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org: %d %s", res.StatusCode, string(data))
	}
	var org domain.Organization
	if err := json.Unmarshal(data, &org); err != nil {
		t.Fatalf("unmarshal org: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"org_id": org.ID, "name": "Platform",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project struct {
		Project domain.Project `json:"project"`
		Stages  []domain.Stage `json:"stages"`
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.Project.ID == "" {
		t.Fatalf("project id missing: %s", string(data))
	}
	var doneStage string
	for _, s := range project.Stages {
		if s.IsDone {
			doneStage = s.ID
		}
	}
	if doneStage == "" {
		t.Fatalf("no done stage seeded: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.Project.ID+"/tasks", map[string]any{
		"title": "Ship feature",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{
		"stage_id": doneStage,
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move: %d %s", res.StatusCode, string(data))
	}
	var moved struct {
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal move: %v", err)
	}
	if moved.Task.Approval != "pending" {
		t.Fatalf("approval %q after done move", moved.Task.Approval)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/approve", struct{}{}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved domain.Task
	_ = json.Unmarshal(data, &approved)
	if approved.Approval != "approved" {
		t.Fatalf("approval %q after approve", approved.Approval)
	}

	// double approval surfaces as a 409 with its own code
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/approve", struct{}{}, alice)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double approve: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "approval_state" {
		t.Fatalf("double approve code %q", code)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := auth(t, "alice")
	bob := auth(t, "bob")

	for _, h := range []map[string]string{alice, bob} {
		if res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, h); res.StatusCode != http.StatusOK {
			t.Fatalf("me: %d %s", res.StatusCode, string(data))
		}
	}

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{"name": "Acme", "slug": "acme"}, alice)
	var org domain.Organization
	_ = json.Unmarshal(data, &org)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"org_id": org.ID, "name": "Secret"}, alice)
	var project struct {
		Project domain.Project `json:"project"`
	}
	if err := json.Unmarshal(data, &project); err != nil || project.Project.ID == "" {
		t.Fatalf("create project: %v %s", err, string(data))
	}

	// an outsider gets a 404, not a 403
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.Project.ID, nil, bob)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("outsider read: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("outsider code %q", code)
	}

	// a reader gets a 403 on writes
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/"+project.Project.ID+"/members", map[string]any{
		"profile_id": "bob", "role": "reader",
	}, alice)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("grant reader: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.Project.ID+"/tasks", map[string]any{
		"title": "nope",
	}, bob)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reader write: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("reader code %q", code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := auth(t, "alice")

	if res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, alice); res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "ci"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var created struct {
		Key       domain.APIKey `json:"key"`
		Plaintext string        `json:"plaintext"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.Plaintext == "" {
		t.Fatalf("no plaintext key in %s", string(data))
	}
	if created.Key.KeyHash != "" {
		t.Fatalf("key hash leaked in response")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": created.Plaintext})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("key auth: %d %s", res.StatusCode, string(data))
	}
	var me domain.Profile
	_ = json.Unmarshal(data, &me)
	if me.ID != "alice" {
		t.Fatalf("key resolved to %q", me.ID)
	}

	// a bad key is a 401
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "tlk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: %d %s", res.StatusCode, string(data))
	}
}
