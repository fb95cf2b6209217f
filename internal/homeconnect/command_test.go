package homeconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
)

type fixedStatus logic.Status

func (s fixedStatus) Current() logic.Status { return logic.Status(s) }

func TestSetDesired(t *testing.T) {
	tests := []struct {
		name    string
		current logic.Status
		on      bool
		want    string // expected power state value, "" for no call
	}{
		{"inactive to on", logic.StatusInactive, true, "BSH.Common.EnumType.PowerState.On"},
		{"running to off", logic.StatusRunning, false, "BSH.Common.EnumType.PowerState.Standby"},
		{"disconnected to on", logic.StatusDisconnected, true, "BSH.Common.EnumType.PowerState.On"},
		{"running already on", logic.StatusRunning, true, ""},
		{"inactive already off", logic.StatusInactive, false, ""},
		{"waking up reads as on", logic.StatusWakingUp, true, ""},
		{"waking up to off", logic.StatusWakingUp, false, "BSH.Common.EnumType.PowerState.Standby"},
		{"shutting down to on", logic.StatusShuttingDown, true, "BSH.Common.EnumType.PowerState.On"},
		{"shutting down reads as off", logic.StatusShuttingDown, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			var hooked []error
			c := NewCommander(New(srv.URL, testHaID, staticTokens("tok"), logr.Discard()), fixedStatus(tt.current), logr.Discard(),
				WithSentHook(func(err error) { hooked = append(hooked, err) }))

			if err := c.SetDesired(context.Background(), tt.on); err != nil {
				t.Fatalf("SetDesired: %v", err)
			}

			if tt.want == "" {
				if len(api.putBodies()) != 0 || len(hooked) != 0 {
					t.Errorf("expected no call, got %d puts", len(api.putBodies()))
				}
				return
			}
			if len(api.putBodies()) != 1 || len(hooked) != 1 {
				t.Fatalf("expected one call, got %d puts, %d hooks", len(api.putBodies()), len(hooked))
			}
			var body struct {
				Data struct {
					Key         string `json:"key"`
					Value       string `json:"value"`
					Type        string `json:"type"`
					Constraints struct {
						AllowedValues []string `json:"allowedvalues"`
					} `json:"constraints"`
				} `json:"data"`
			}
			if err := json.Unmarshal([]byte(api.putBodies()[0]), &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body.Data.Value != tt.want {
				t.Errorf("value: got %q, want %q", body.Data.Value, tt.want)
			}
			if body.Data.Key != "BSH.Common.Setting.PowerState" || body.Data.Type != "BSH.Common.EnumType.PowerState" {
				t.Errorf("key/type: got %q/%q", body.Data.Key, body.Data.Type)
			}
			if len(body.Data.Constraints.AllowedValues) != 2 {
				t.Errorf("allowedvalues: got %v", body.Data.Constraints.AllowedValues)
			}
			if got := api.lastRequest().Header.Get("Content-Type"); got != "application/vnd.bsh.sdk.v1+json" {
				t.Errorf("Content-Type: got %q", got)
			}
		})
	}
}

func TestSetDesiredTransitionalIsLogged(t *testing.T) {
	_, srv := newFakeAPI(t)
	logs := &logLines{}
	c := NewCommander(New(srv.URL, testHaID, staticTokens("tok"), logr.Discard()), fixedStatus(logic.StatusShuttingDown), logs.logger())

	if err := c.SetDesired(context.Background(), true); err != nil {
		t.Fatalf("SetDesired: %v", err)
	}
	if logs.count("command during transitional status") != 1 {
		t.Error("expected a transitional status log line")
	}
}

func TestSetDesiredRejected(t *testing.T) {
	api, srv := newFakeAPI(t, func(f *fakeAPI) { f.putCode = http.StatusConflict })
	var hooked []error
	c := NewCommander(New(srv.URL, testHaID, staticTokens("tok"), logr.Discard()), fixedStatus(logic.StatusInactive), logr.Discard(),
		WithSentHook(func(err error) { hooked = append(hooked, err) }))

	err := c.SetDesired(context.Background(), true)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Fatalf("got %v, want 409 StatusError", err)
	}
	if len(hooked) != 1 || hooked[0] == nil {
		t.Errorf("hook should see the failure, got %v", hooked)
	}
	if len(api.putBodies()) != 1 {
		t.Errorf("no retry expected, got %d puts", len(api.putBodies()))
	}
}
