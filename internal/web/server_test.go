package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
	"github.com/sweeney/hc-state/internal/status"
)

type fakeSwitch struct {
	mu     sync.Mutex
	status logic.Status
	sets   []bool
}

func (f *fakeSwitch) Status() logic.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSwitch) SetOn(on bool) {
	f.mu.Lock()
	f.sets = append(f.sets, on)
	f.mu.Unlock()
}

func (f *fakeSwitch) setCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.sets...)
}

func newTestServer(t *testing.T, metrics http.Handler) (*httptest.Server, *status.Tracker, *fakeSwitch) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Name:            "Coffee Machine",
		HaID:            "SIEMENS-TI9575X1DE-68A40E123456",
		BaseURL:         "https://api.home-connect.com",
		Broker:          "tcp://192.168.1.200:1883",
		HTTPAddr:        ":8080",
		RefreshInterval: 12 * time.Hour,
		RestartInterval: time.Hour,
	}
	tr := status.NewTracker(start, cfg)
	sw := &fakeSwitch{}
	srv := New(":0", tr, sw, metrics, logr.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, sw
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func put(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	resp.Body.Close()
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.RecordChange(logic.Change{
		Timestamp: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		From:      logic.StatusInactive,
		To:        logic.StatusRunning,
		Source:    logic.SourcePoll,
	})
	tr.SetMQTTConnected(true)
	tr.SetStreamConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if sj.Status.State != "Running" {
		t.Errorf("State: got %q, want Running", sj.Status.State)
	}
	if !sj.Status.On {
		t.Error("expected On=true")
	}
	if sj.Status.LastSource != "poll" {
		t.Errorf("LastSource: got %q, want poll", sj.Status.LastSource)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if !sj.Status.Stream.Connected || sj.Status.Stream.Connects != 1 {
		t.Errorf("Stream: got %+v", sj.Status.Stream)
	}
	if sj.Status.Counts.Running != 1 {
		t.Errorf("Counts.Running: got %d, want 1", sj.Status.Counts.Running)
	}
	if sj.Status.HaID != "SIEMENS-TI9575X1DE-68A40E123456" {
		t.Errorf("HaID: got %q", sj.Status.HaID)
	}
	if sj.Status.Config.RestartIntervalMs != 3600000 {
		t.Errorf("Config.RestartIntervalMs: got %d", sj.Status.Config.RestartIntervalMs)
	}
}

func TestJSONInitialState(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	var sj status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj)

	if sj.Status.State != "Inactive" {
		t.Errorf("State: got %q, want Inactive", sj.Status.State)
	}
	if sj.Status.On {
		t.Error("expected On=false")
	}
	if sj.Status.LastChange != "" {
		t.Errorf("LastChange: got %q, want empty", sj.Status.LastChange)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.RecordChange(logic.Change{To: logic.StatusWakingUp, Source: logic.SourceStream, Timestamp: time.Now()})

	for _, path := range []string{"/", "/index.html"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != 200 {
				t.Errorf("status: got %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Content-Type: got %q, want text/html", ct)
			}
			body, _ := io.ReadAll(resp.Body)
			for _, want := range []string{"Coffee Machine", "Waking Up", "tcp://192.168.1.200:1883"} {
				if !strings.Contains(string(body), want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
}

func TestGetOn(t *testing.T) {
	ts, _, sw := newTestServer(t, nil)
	sw.status = logic.StatusRunning

	var got OnResponse
	getJSON(t, ts.URL+"/api/on", &got)
	if !got.On || got.Status != "Running" {
		t.Errorf("got %+v, want on=true status=Running", got)
	}
}

// The tracker lags the state machine by one observer call; /api/on must
// not mix the two.
func TestGetOnAgreesWithItself(t *testing.T) {
	ts, tr, sw := newTestServer(t, nil)
	tr.RecordChange(logic.Change{To: logic.StatusRunning})
	sw.status = logic.StatusShuttingDown

	var got OnResponse
	getJSON(t, ts.URL+"/api/on", &got)
	if got.On || got.Status != "Shutting Down" {
		t.Errorf("got %+v, want on=false status=Shutting Down", got)
	}
}

func TestPutOn(t *testing.T) {
	ts, _, sw := newTestServer(t, nil)

	if resp := put(t, ts.URL+"/api/on", `{"on": true}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want 202", resp.StatusCode)
	}
	if resp := put(t, ts.URL+"/api/on", `{"on": false}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want 202", resp.StatusCode)
	}
	sets := sw.setCalls()
	if len(sets) != 2 || !sets[0] || sets[1] {
		t.Errorf("SetOn calls: got %v, want [true false]", sets)
	}
}

func TestPutOnRejectsBadBody(t *testing.T) {
	ts, _, sw := newTestServer(t, nil)

	for _, body := range []string{``, `not json`, `{}`, `{"on": "yes"}`, `{"on": true, "extra": 1}`} {
		if resp := put(t, ts.URL+"/api/on", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: got %d, want 400", body, resp.StatusCode)
		}
	}
	if sets := sw.setCalls(); len(sets) != 0 {
		t.Errorf("SetOn called %d times for bad bodies", len(sets))
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hc_state_on 1\n")
	})
	ts, _, _ := newTestServer(t, metrics)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "hc_state_on 1") {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestMetricsAbsentWithoutHandler(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown path: got %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/index.json", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /index.json: got %d, want 405", resp.StatusCode)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
		{26*time.Hour + 1500*time.Millisecond, "1d 2h 0m 1s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPortOf(t *testing.T) {
	if p, err := PortOf(":8080"); err != nil || p != 8080 {
		t.Errorf("PortOf(:8080) = %d, %v", p, err)
	}
	if p, err := PortOf("127.0.0.1:80"); err != nil || p != 80 {
		t.Errorf("PortOf(127.0.0.1:80) = %d, %v", p, err)
	}
	for _, bad := range []string{"8080", ":http", ":0", ":70000"} {
		if _, err := PortOf(bad); err == nil {
			t.Errorf("PortOf(%q): expected error", bad)
		}
	}
}

func TestAdvertiseTXT(t *testing.T) {
	txt := AdvertiseTXT("HAID-1")
	if len(txt) != 2 || txt[0] != "haid=HAID-1" || txt[1] != "path=/index.json" {
		t.Errorf("got %v", txt)
	}
}
