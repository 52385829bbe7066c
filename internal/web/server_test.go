package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/sentry"
	"github.com/sweeney/sentry-node/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Transport:     "mqtt",
		Broker:        "tcp://192.168.1.200:1883",
		HTTPAddr:      ":80",
		Storage:       "memory",
		LogIntervalMs: 600000,
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func raisedState() sentry.State {
	s := sentry.State{
		Time:      clock.Timestamp{Year: 2024, Month: 2, Day: 29, Hours: 12},
		Connected: true,
		Counts:    alarm.Counts{PresenceRaised: 5, PresenceCleared: 2},
	}
	s.Alarms[alarm.Presence] = alarm.State{Armed: true, Current: alarm.LevelRaised, LastReported: alarm.LevelRaised}
	s.Alarms[alarm.Motion] = alarm.State{Armed: true, Current: alarm.LevelClear, LastReported: alarm.LevelClear}
	s.Log.Records = 7
	return s
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Observe(raisedState())
	tr.SetLinkUp(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.Alarms["presence"].Level != "RAISED" {
		t.Errorf("presence: got %q, want RAISED", sj.Status.Alarms["presence"].Level)
	}
	if sj.Status.Alarms["motion"].Level != "CLEAR" {
		t.Errorf("motion: got %q, want CLEAR", sj.Status.Alarms["motion"].Level)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.Link.Up {
		t.Error("expected Link.Up=true")
	}
	if sj.Status.Link.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Link.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.Link.Broker)
	}
	if sj.Status.Counts.PresenceRaised != 5 {
		t.Errorf("Counts.PresenceRaised: got %d, want 5", sj.Status.Counts.PresenceRaised)
	}
	if sj.Status.Log.Records != 7 {
		t.Errorf("Log.Records: got %d, want 7", sj.Status.Log.Records)
	}
	if sj.Status.Config.LogIntervalMs != 600000 {
		t.Errorf("Config.LogIntervalMs: got %d, want 600000", sj.Status.Config.LogIntervalMs)
	}
}

func TestJSONUnknownStateBeforeFirstIteration(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Clock != "UNKNOWN" {
		t.Errorf("Clock before first iteration: got %q, want UNKNOWN", sj.Status.Clock)
	}
	if sj.Status.Ready {
		t.Error("expected Ready=false")
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Observe(raisedState())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"RAISED", "2024-02-29 12:00:00", "connectable"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, tr := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before ready: got %d, want 503", resp.StatusCode)
	}

	tr.Observe(raisedState())
	tr.SetLinkUp(true)
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status when ready: got %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field: got %v, want healthy", body["status"])
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path string
		code int
		want zerolog.Level
	}{
		{"/health", http.StatusServiceUnavailable, zerolog.DebugLevel},
		{"/health", http.StatusOK, zerolog.DebugLevel},
		{"/health", http.StatusInternalServerError, zerolog.ErrorLevel},
		{"/json", http.StatusServiceUnavailable, zerolog.ErrorLevel},
		{"/nope", http.StatusNotFound, zerolog.WarnLevel},
		{"/", http.StatusOK, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.code); got != tt.want {
			t.Errorf("requestLevel(%q, %d) = %v, want %v", tt.path, tt.code, got, tt.want)
		}
	}
}

func TestDegradedHealthPollNotLoggedAsError(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	tr := status.NewTracker(time.Now(), status.Config{})
	srv := New(":0", tr)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rec.Code)
	}
	line := buf.String()
	if !strings.Contains(line, `"path":"/health"`) {
		t.Fatalf("request not logged: %q", line)
	}
	if !strings.Contains(line, `"level":"debug"`) {
		t.Errorf("degraded health poll logged above debug: %q", line)
	}
}

func TestCORSHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/index.json", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q, want *", got)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Observe(raisedState())
	tr.SetLinkUp(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if !sj2.Status.Link.PeerConnected {
		t.Error("expected peer connected after update")
	}
	if sj2.Status.Mode != "connectable" {
		t.Errorf("Mode: got %q, want connectable", sj2.Status.Mode)
	}
}
