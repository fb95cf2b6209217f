package homeconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/hc-state/internal/logic"
)

// operationStateIndex is the position of the operation state in the status list.
const operationStateIndex = 2

// ErrMalformedResponse marks a 2xx body that lacks the expected fields.
var ErrMalformedResponse = errors.New("homeconnect: malformed response")

// IntentSink consumes transition intents. *status.Machine satisfies it.
type IntentSink interface {
	Apply(intent logic.Intent) bool
}

// Reconciler resynchronizes the status over REST. Calls are rate limited
// upstream, so it only runs when the event stream (re)starts.
type Reconciler struct {
	client *Client
	sink   IntentSink
	log    logr.Logger
}

// NewReconciler creates a reconciler feeding sink.
func NewReconciler(client *Client, sink IntentSink, log logr.Logger) *Reconciler {
	return &Reconciler{client: client, sink: sink, log: log}
}

type applianceResponse struct {
	Data struct {
		Connected *bool `json:"connected"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		Status []struct {
			Key          string  `json:"key"`
			DisplayValue *string `json:"displayvalue"`
		} `json:"status"`
	} `json:"data"`
}

// Reconcile reads connectivity and the status list concurrently and applies
// whatever intents they produce. Malformed bodies map to Disconnected.
// Transport and non-2xx failures produce no intent and are returned.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return r.connectivity(ctx) })
	g.Go(func() error { return r.operationState(ctx) })
	return g.Wait()
}

func (r *Reconciler) connectivity(ctx context.Context) error {
	body, err := r.client.do(ctx, http.MethodGet, r.client.appliancePath(""), nil)
	if err != nil {
		r.logFailure(err, "connectivity")
		return err
	}

	connected, err := parseConnected(body)
	if err != nil {
		r.log.Error(err, "unexpected connectivity response", "body", string(body))
		r.apply(logic.StatusDisconnected)
		return nil
	}
	if !connected {
		r.log.Info("appliance reports disconnected")
		r.apply(logic.StatusDisconnected)
	}
	return nil
}

func (r *Reconciler) operationState(ctx context.Context) error {
	body, err := r.client.do(ctx, http.MethodGet, r.client.appliancePath("/status"), nil)
	if err != nil {
		r.logFailure(err, "status")
		return err
	}

	display, err := parseOperationState(body)
	if err != nil {
		r.log.Error(err, "unexpected status response", "body", string(body))
		r.apply(logic.StatusDisconnected)
		return nil
	}
	s, ok := logic.StatusForDisplayValue(display)
	if !ok {
		r.log.Info("current state is unknown", "displayvalue", display, "body", string(body))
		return nil
	}
	r.log.Info("current state", "displayvalue", display)
	r.apply(s)
	return nil
}

func (r *Reconciler) apply(s logic.Status) {
	r.sink.Apply(logic.Intent{Target: s, Source: logic.SourcePoll})
}

func (r *Reconciler) logFailure(err error, read string) {
	var se *StatusError
	if errors.As(err, &se) {
		r.log.Error(err, "reconciliation read rejected", "read", read, "code", se.Code)
		return
	}
	r.log.Error(err, "reconciliation read failed", "read", read)
}

func parseConnected(body []byte) (bool, error) {
	var resp applianceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Data.Connected == nil {
		return false, fmt.Errorf("%w: missing data.connected", ErrMalformedResponse)
	}
	return *resp.Data.Connected, nil
}

func parseOperationState(body []byte) (string, error) {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Data.Status) <= operationStateIndex {
		return "", fmt.Errorf("%w: status list has %d entries", ErrMalformedResponse, len(resp.Data.Status))
	}
	v := resp.Data.Status[operationStateIndex].DisplayValue
	if v == nil {
		return "", fmt.Errorf("%w: missing displayvalue", ErrMalformedResponse)
	}
	return *v, nil
}
