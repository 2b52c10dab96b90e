package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/switchboard/internal/config"
	"github.com/hpungsan/switchboard/internal/db"
	"github.com/hpungsan/switchboard/internal/ops"
	"github.com/hpungsan/switchboard/internal/remote"
	"github.com/hpungsan/switchboard/internal/schedule"
)

type testEnv struct {
	svc     *ops.Service
	remote  *remote.Memory
	clock   *schedule.ManualClock
	handler http.Handler
}

// setupTest wires the full console over a temp database with one channel
// ("tg") and one capability ("4", described in markdown).
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		remote: remote.NewMemory(),
		clock:  schedule.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	env.svc = ops.New(db.NewStore(database), env.remote, config.DefaultConfig(), ops.Options{Clock: env.clock})

	ctx := context.Background()
	if _, err := env.svc.AddChannel(ctx, ops.AddChannelInput{ID: "tg", Name: "Telegram", Kind: "telegram"}); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if _, err := env.svc.AddCapability(ctx, ops.AddCapabilityInput{
		ID:                    "4",
		Name:                  "Lookup order",
		Description:           "Finds an order by **number**.",
		NotificationChannelID: "tg",
	}); err != nil {
		t.Fatalf("add capability: %v", err)
	}

	env.handler = NewServer(env.svc, "test", "127.0.0.1", 0).Handler
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return resp
}

// --- Routing and headers ---

func TestRootRedirects(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/assistants" {
		t.Errorf("Location = %q, want /assistants", loc)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/assistants", nil))
	if got := rec.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'self'") {
		t.Errorf("Content-Security-Policy = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestStaticFiles(t *testing.T) {
	env := setupTest(t)

	for _, path := range []string{"/static/console.js", "/static/style.css"} {
		rec := env.do(httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

// --- Pages ---

func TestHandleAssistants(t *testing.T) {
	env := setupTest(t)
	err := env.svc.Toggle(context.Background(), ops.ToggleInput{AssistantID: "a1", CapabilityID: "4", ChannelID: "tg", Enabled: true})
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	rec := env.do(httptest.NewRequest("GET", "/assistants", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full page layout")
	}
	if !strings.Contains(body, `href="/assistants/a1"`) {
		t.Error("expected link to assistant a1")
	}
}

func TestHandleAssistants_JumpToID(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/assistants?id=bot%2F1", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/assistants/bot%2F1" {
		t.Errorf("Location = %q, want /assistants/bot%%2F1", loc)
	}
}

func TestHandleAssistant_FullPage(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/assistants/a1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<!DOCTYPE html>", "Lookup order", "<strong>number</strong>", `id="capability-table"`, "Turn on"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	// The capability's default channel is preselected
	if !strings.Contains(body, `value="tg" selected`) {
		t.Error("expected default channel to be selected")
	}
}

func TestHandleAssistant_TableFragment(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest("GET", "/assistants/a1", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "capability-table")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("fragment should not contain full layout")
	}
	if strings.Contains(body, "Notices") {
		t.Error("fragment should only contain the table")
	}
	if !strings.Contains(body, `id="capability-table"`) {
		t.Error("expected table container")
	}
}

func TestHandleCatalog(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/catalog", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "lookup_order") {
		t.Error("expected canonical remote name")
	}
	if !strings.Contains(body, "<strong>number</strong>") {
		t.Error("expected rendered markdown description")
	}
}

func TestHandleState_JSON(t *testing.T) {
	env := setupTest(t)

	rec := env.do(httptest.NewRequest("GET", "/assistants/a1/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decodeJSON(t, rec)
	if resp["assistant_id"] != "a1" {
		t.Errorf("assistant_id = %v, want a1", resp["assistant_id"])
	}
	rows := resp["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

// --- Toggle ---

func TestHandleToggle_JSON(t *testing.T) {
	env := setupTest(t)

	req := postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"true"}, "channel_id": {"tg"}})
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	resp := decodeJSON(t, rec)
	if resp["accepted"] != true {
		t.Errorf("accepted = %v, want true", resp["accepted"])
	}

	env.svc.Wait()
	state, err := env.svc.PresentedState(context.Background(), "a1", "4")
	if err != nil {
		t.Fatalf("PresentedState: %v", err)
	}
	if !state.Active {
		t.Error("expected capability to be active after the toggle settled")
	}
}

func TestHandleToggle_HtmxReturnsTable(t *testing.T) {
	env := setupTest(t)

	req := postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"true"}, "channel_id": {"tg"}})
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)
	env.svc.Wait()

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `id="capability-table"`) {
		t.Error("expected table fragment")
	}
}

func TestHandleToggle_DefaultRedirect(t *testing.T) {
	env := setupTest(t)

	rec := env.do(postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"true"}, "channel_id": {"tg"}}))
	env.svc.Wait()

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/assistants/a1" {
		t.Errorf("Location = %q, want /assistants/a1", loc)
	}
}

func TestHandleToggle_InvalidEnabled(t *testing.T) {
	env := setupTest(t)

	req := postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"maybe"}})
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	errObj := decodeJSON(t, rec)["error"].(map[string]any)
	if errObj["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %v, want INVALID_REQUEST", errObj["code"])
	}
}

func TestHandleToggle_MissingChannel(t *testing.T) {
	env := setupTest(t)

	req := postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"true"}})
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)
	env.svc.Wait()

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	errObj := decodeJSON(t, rec)["error"].(map[string]any)
	if errObj["code"] != "CONFIGURATION" {
		t.Errorf("code = %v, want CONFIGURATION", errObj["code"])
	}

	// The failure is kept in the notice feed too
	page := env.do(httptest.NewRequest("GET", "/assistants/a1", nil)).Body.String()
	if !strings.Contains(page, "no active channel selected") {
		t.Error("expected the failure to be shown as a notice")
	}
}

func TestHandleToggle_StateShowsToggleImmediately(t *testing.T) {
	env := setupTest(t)

	req := postForm("/assistants/a1/capabilities/4/toggle", url.Values{"enabled": {"true"}, "channel_id": {"tg"}})
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	state := decodeJSON(t, env.do(httptest.NewRequest("GET", "/assistants/a1/state", nil)))
	env.svc.Wait()
	row := state["rows"].([]any)[0].(map[string]any)
	if row["active"] != true {
		t.Errorf("row right after toggle = %v, want active", row)
	}
}

func TestHandleSetChannel(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	if err := env.svc.Toggle(ctx, ops.ToggleInput{AssistantID: "a1", CapabilityID: "4", ChannelID: "tg", Enabled: true}); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	links, err := env.svc.Links(ctx, "a1")
	if err != nil || len(links) != 1 {
		t.Fatalf("Links: %v %v", links, err)
	}

	req := postForm("/assistants/a1/links/"+links[0].ID+"/channel", url.Values{"channel_enabled": {"false"}})
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["channel_enabled"] != false {
		t.Errorf("channel_enabled = %v, want false", resp["channel_enabled"])
	}

	// Unknown link for this assistant
	req = postForm("/assistants/a2/links/"+links[0].ID+"/channel", url.Values{"channel_enabled": {"true"}})
	req.Header.Set("Accept", "application/json")
	if rec := env.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// --- Sync and refresh ---

func TestHandleSync_JSONAndRateLimit(t *testing.T) {
	env := setupTest(t)
	env.remote.Set("a1", "stray")

	req := httptest.NewRequest("POST", "/assistants/a1/sync", nil)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["removed"] != float64(1) {
		t.Errorf("removed = %v, want 1", resp["removed"])
	}

	req = httptest.NewRequest("POST", "/assistants/a1/sync", nil)
	req.Header.Set("Accept", "application/json")
	rec = env.do(req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	errObj := decodeJSON(t, rec)["error"].(map[string]any)
	details := errObj["details"].(map[string]any)
	if details["retry_after_ms"] != float64(5000) {
		t.Errorf("retry_after_ms = %v, want 5000", details["retry_after_ms"])
	}
}

func TestHandleSync_HtmxFragment(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest("POST", "/assistants/a1/sync", nil)
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sync-result") {
		t.Error("expected sync-result fragment")
	}

	// Inside the cooldown the fragment is an error message
	req = httptest.NewRequest("POST", "/assistants/a1/sync", nil)
	req.Header.Set("HX-Request", "true")
	rec = env.do(req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "error-message") || strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("expected bare error fragment, got %q", body)
	}
}

func TestHandleSync_FullErrorPage(t *testing.T) {
	env := setupTest(t)

	env.do(httptest.NewRequest("POST", "/assistants/a1/sync", nil))
	rec := env.do(httptest.NewRequest("POST", "/assistants/a1/sync", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("full error page should contain layout")
	}
	if !strings.Contains(body, "429") {
		t.Error("error page should show status code")
	}
}

func TestHandleRefresh(t *testing.T) {
	env := setupTest(t)
	env.remote.Set("a1", "lookup_order")

	req := httptest.NewRequest("POST", "/assistants/a1/refresh", nil)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	drift := decodeJSON(t, rec)["drift"].(map[string]any)
	remoteOnly := drift["remote_only"].([]any)
	if len(remoteOnly) != 1 || remoteOnly[0] != "lookup_order" {
		t.Errorf("remote_only = %v, want [lookup_order]", remoteOnly)
	}
}

func TestHandleRefresh_RemoteFailure(t *testing.T) {
	env := setupTest(t)
	env.remote.Fail(remote.OpListActive, remote.ErrUnauthorized)

	req := httptest.NewRequest("POST", "/assistants/a1/refresh", nil)
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

// --- Helper functions ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=abc", 50},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/catalog?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 50); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	if got := renderMarkdown("  "); got != "" {
		t.Errorf("blank markdown = %q, want empty", got)
	}
	got := string(renderMarkdown("<script>alert(1)</script>\n\n*hi*"))
	if strings.Contains(got, "<script>") {
		t.Errorf("raw HTML should be dropped: %q", got)
	}
	if !strings.Contains(got, "<em>hi</em>") {
		t.Errorf("expected emphasis, got %q", got)
	}
}
