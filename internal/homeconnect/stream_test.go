package homeconnect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

// chunkReader returns one chunk per Read, then err.
type chunkReader struct {
	chunks []string
	err    error
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func collect(s *Stream) []string {
	var out []string
	for s.Next() {
		out = append(out, string(s.Chunk()))
	}
	return out
}

func TestStreamFiltersChunks(t *testing.T) {
	r := &chunkReader{
		chunks: []string{
			"event:KEEP-ALIVE\n\n",
			"event:STATUS\ndata:{\"items\":[{\"key\":\"BSH.Common.Status.OperationState\",\"value\":\"BSH.Common.EnumType.OperationState.Ready\"}]}\n\n",
			"event:EVENT\ndata:{}\n\n",
			"event:NOTIFY\ndata:{}\n\n",
			"event:STATUS\ndata:{}\nevent:NOTIFY\ndata:{\"value\":\"BSH.Common.EnumType.PowerState.On\"}\n\n",
		},
		err: io.EOF,
	}
	s := newStream(r, logr.Discard())

	got := collect(s)
	if len(got) != 2 {
		t.Fatalf("expected 2 status chunks, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[0], "OperationState.Ready") || !strings.Contains(got[1], "PowerState.On") {
		t.Errorf("unexpected chunk contents: %q", got)
	}
	if s.Err() != nil {
		t.Errorf("clean end should report nil, got %v", s.Err())
	}
	if err := s.Close(); err != nil || !r.closed {
		t.Error("Close should close the body")
	}
}

func TestStreamSplitMarkerIsMissed(t *testing.T) {
	r := &chunkReader{
		chunks: []string{"event:STA", "TUS\ndata:{}\n\n"},
		err:    io.EOF,
	}
	if got := collect(newStream(r, logr.Discard())); len(got) != 0 {
		t.Errorf("a marker split across chunks is not seen, got %q", got)
	}
}

func TestStreamReportsReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkReader{chunks: []string{"event:STATUS\n"}, err: boom}
	s := newStream(r, logr.Discard())

	if got := collect(s); len(got) != 1 {
		t.Fatalf("expected the status chunk before the error, got %q", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err: got %v, want %v", s.Err(), boom)
	}
	if s.Next() {
		t.Error("Next after failure must stay false")
	}
}

func TestOpenStream(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/homeappliances/"+testHaID+"/events" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "event:STATUS\ndata:{\"items\":[]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(srv.URL, testHaID, staticTokens("tok"), logr.Discard())
	s, err := c.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer s.Close()

	h := <-headers
	if got := h.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept: got %q", got)
	}
	if got := h.Get("Accept-Language"); got != "en-US" {
		t.Errorf("Accept-Language: got %q", got)
	}
	if got := h.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization: got %q", got)
	}

	if !s.Next() {
		t.Fatalf("expected a chunk, err=%v", s.Err())
	}

	done := make(chan bool, 1)
	go func() { done <- s.Next() }()
	cancel()
	select {
	case more := <-done:
		if more {
			t.Error("Next should return false after cancel")
		}
		if s.Err() == nil {
			t.Error("expected an error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on cancel")
	}
}

func TestOpenStreamRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"key":"429"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, testHaID, staticTokens("tok"), logr.Discard())
	_, err := c.OpenStream(context.Background())
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("got %v, want ErrUnexpectedStatus", err)
	}
}
