package homeconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
)

// StatusReader exposes the current status. *status.Machine satisfies it.
type StatusReader interface {
	Current() logic.Status
}

// Commander issues power state commands. It never changes the local status:
// the result arrives later through the event stream.
type Commander struct {
	client *Client
	status StatusReader
	sent   func(err error)
	log    logr.Logger
}

// CommanderOption configures a Commander.
type CommanderOption func(*Commander)

// WithSentHook is called after every command that reached the network.
func WithSentHook(f func(err error)) CommanderOption {
	return func(c *Commander) { c.sent = f }
}

// NewCommander creates a commander.
func NewCommander(client *Client, status StatusReader, log logr.Logger, opts ...CommanderOption) *Commander {
	c := &Commander{client: client, status: status, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type settingRequest struct {
	Data settingData `json:"data"`
}

type settingData struct {
	Key         string             `json:"key"`
	Value       string             `json:"value"`
	Type        string             `json:"type"`
	Constraints settingConstraints `json:"constraints"`
}

type settingConstraints struct {
	AllowedValues []string `json:"allowedvalues"`
}

func powerStateBody(on bool) ([]byte, error) {
	return json.Marshal(settingRequest{Data: settingData{
		Key:   logic.PowerStateKey,
		Value: logic.PowerStateValue(on),
		Type:  logic.PowerStateType,
		Constraints: settingConstraints{
			AllowedValues: []string{logic.PowerStateOnMarker, logic.PowerStateStbyMarker},
		},
	}})
}

// SetDesired commands the appliance on or to standby. No call is made when
// the derived on/off view already matches. Transitional statuses do not block
// the call. Failures are logged, returned and never retried.
func (c *Commander) SetDesired(ctx context.Context, on bool) error {
	cur := c.status.Current()
	if cur.Transitional() {
		c.log.Info("command during transitional status", "status", cur.String(), "on", on)
	}
	if cur.On() == on {
		c.log.V(1).Info("appliance already in desired state", "status", cur.String(), "on", on)
		return nil
	}
	if on {
		c.log.Info("awake cycle started", "ha_id", c.client.haID)
	} else {
		c.log.Info("shutdown cycle started", "ha_id", c.client.haID)
	}

	body, err := powerStateBody(on)
	if err != nil {
		return fmt.Errorf("encode power state: %w", err)
	}
	_, err = c.client.do(ctx, http.MethodPut, c.client.appliancePath("/settings/"+logic.PowerStateKey), body)
	if c.sent != nil {
		c.sent(err)
	}

	var se *StatusError
	switch {
	case errors.As(err, &se):
		c.log.Error(err, "power state command rejected", "code", se.Code, "body", se.Body)
	case err != nil:
		c.log.Error(err, "power state command failed")
	default:
		c.log.Info("power state command accepted", "value", logic.PowerStateValue(on))
	}
	return err
}
