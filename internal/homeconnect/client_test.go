package homeconnect

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/sweeney/hc-state/internal/logic"
)

const testHaID = "BOSCH-HCS01OVN1-0123456789AB"

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type recordingSink struct {
	mu      sync.Mutex
	intents []logic.Intent
}

func (s *recordingSink) Apply(i logic.Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, i)
	return true
}

func (s *recordingSink) targets() map[logic.Status]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[logic.Status]bool)
	for _, i := range s.intents {
		m[i.Target] = true
	}
	return m
}

type logLines struct {
	mu    sync.Mutex
	lines []string
}

func (l *logLines) logger() logr.Logger {
	return funcr.New(func(_, args string) {
		l.mu.Lock()
		l.lines = append(l.lines, args)
		l.mu.Unlock()
	}, funcr.Options{Verbosity: 1})
}

func (l *logLines) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// fakeAPI serves the appliance endpoints used by the client.
type fakeAPI struct {
	t *testing.T

	mu            sync.Mutex
	appliance     string
	applianceCode int
	status        string
	statusCode    int
	putCode       int
	puts          []string
	requests      []*http.Request
}

// newFakeAPI configures the fake before the server starts serving.
func newFakeAPI(t *testing.T, configure ...func(*fakeAPI)) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{
		t:             t,
		appliance:     `{"data":{"haId":"` + testHaID + `","connected":true}}`,
		applianceCode: http.StatusOK,
		status:        statusBody("Ready"),
		statusCode:    http.StatusOK,
		putCode:       http.StatusNoContent,
	}
	for _, fn := range configure {
		fn(f)
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func statusBody(display string) string {
	return `{"data":{"status":[` +
		`{"key":"BSH.Common.Status.RemoteControlActive","value":true},` +
		`{"key":"BSH.Common.Status.RemoteControlStartAllowed","value":false},` +
		`{"key":"BSH.Common.Status.OperationState","value":"BSH.Common.EnumType.OperationState.` + display + `","displayvalue":"` + display + `"}]}}`
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Clone(context.Background()))

	base := "/api/homeappliances/" + testHaID
	switch {
	case r.Method == http.MethodGet && r.URL.Path == base:
		w.WriteHeader(f.applianceCode)
		io.WriteString(w, f.appliance)
	case r.Method == http.MethodGet && r.URL.Path == base+"/status":
		w.WriteHeader(f.statusCode)
		io.WriteString(w, f.status)
	case r.Method == http.MethodPut && r.URL.Path == base+"/settings/"+logic.PowerStateKey:
		body, _ := io.ReadAll(r.Body)
		f.puts = append(f.puts, string(body))
		w.WriteHeader(f.putCode)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func TestClientHeaders(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := New(srv.URL, testHaID, staticTokens("tok"), logr.Discard())

	if _, err := c.do(context.Background(), http.MethodGet, c.appliancePath(""), nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	req := api.lastRequest()
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization: got %q", got)
	}
	if got := req.Header.Get("Accept"); got != "application/vnd.bsh.sdk.v1+json" {
		t.Errorf("Accept: got %q", got)
	}
	if got := req.Header.Get("Accept-Language"); got != "en-GB" {
		t.Errorf("Accept-Language: got %q", got)
	}
}

func TestClientStatusError(t *testing.T) {
	_, srv := newFakeAPI(t, func(f *fakeAPI) {
		f.applianceCode = http.StatusUnauthorized
		f.appliance = `{"error":{"key":"invalid_token"}}`
	})
	c := New(srv.URL, testHaID, staticTokens("tok"), logr.Discard())

	_, err := c.do(context.Background(), http.MethodGet, c.appliancePath(""), nil)
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("expected *StatusError, got %T %v", err, err)
	}
	if se.Code != http.StatusUnauthorized || !strings.Contains(se.Body, "invalid_token") {
		t.Errorf("unexpected error: %+v", se)
	}
}

func (f *fakeAPI) putBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}
