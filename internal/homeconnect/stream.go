package homeconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
)

const streamBufferSize = 32 * 1024

// Stream is an open event stream yielding only status-event chunks.
// Each read from the response body is one chunk; nothing is carried across
// chunk boundaries. A Stream cannot be restarted: open a new one.
type Stream struct {
	body  io.ReadCloser
	buf   []byte
	chunk []byte
	err   error
	log   logr.Logger
}

// OpenStream starts the long-lived GET on the appliance event feed.
// Cancelling ctx ends the stream.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	path := c.appliancePath("/events")
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", eventStreamType)
	req.Header.Set("Accept-Language", c.streamLanguage)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	c.log.Info("listening to event stream", "ha_id", c.haID)
	return newStream(resp.Body, c.log), nil
}

func newStream(body io.ReadCloser, log logr.Logger) *Stream {
	return &Stream{
		body: body,
		buf:  make([]byte, streamBufferSize),
		log:  log,
	}
}

// Next advances to the next chunk that passes the status filter.
// It returns false when the stream ends or fails; see Err.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 && logic.PassesFilter(s.buf[:n]) {
			s.chunk = append(s.chunk[:0], s.buf[:n]...)
			if err != nil {
				s.err = err
			}
			return true
		}
		if n > 0 {
			s.log.V(2).Info("dropped non-status chunk", "bytes", n)
		}
		if err != nil {
			s.err = err
			return false
		}
	}
}

// Chunk returns the current chunk. It is only valid until the next call to Next.
func (s *Stream) Chunk() []byte {
	return s.chunk
}

// Err returns the error that ended the stream; nil when the server closed it.
func (s *Stream) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
