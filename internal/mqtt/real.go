package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
)

const (
	connectRetryInterval = 5 * time.Second
	publishTimeout       = 5 * time.Second
	disconnectQuiesce    = 1000 // milliseconds
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int

	// OnSet receives parsed commands from the set topic.
	OnSet func(on bool)

	// OnReconnect runs after every connect except the first.
	OnReconnect func()
}

// RealPublisher publishes to an MQTT broker. Messages produced while the
// broker is unreachable are buffered and replayed on the next connect.
type RealPublisher struct {
	client client
	opts   Options
	log    logr.Logger

	// sendMu orders everything that reaches the broker: buffered messages
	// always go out before a newer live one.
	sendMu sync.Mutex

	mu        sync.Mutex
	buffer    *replayBuffer
	connected bool // seen at least one connect
}

// NewRealPublisher starts connecting in the background and returns at once.
// The connection is retried until it succeeds.
func NewRealPublisher(opts Options, log logr.Logger) *RealPublisher {
	p := newPublisher(nil, opts, log)

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetWill(opts.Topics.System(), string(WillPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Error(err, "mqtt connection lost")
		})

	p.client = paho.NewClient(po)
	p.client.Connect()
	p.log.Info("connecting to mqtt broker", "broker", opts.Broker, "client_id", opts.ClientID)
	return p
}

func newPublisher(c client, opts Options, log logr.Logger) *RealPublisher {
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &RealPublisher{
		client: c,
		opts:   opts,
		log:    log,
		buffer: newReplayBuffer(opts.BufferSize, log),
	}
}

// handleConnect replays buffered messages and subscribes to the set topic.
func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	p.sendMu.Lock()
	buffered := p.Buffered()
	if err := p.flush(); err != nil {
		p.log.Error(err, "replay failed", "buffered", p.Buffered())
	}
	p.sendMu.Unlock()

	p.log.Info("mqtt connected", "reconnect", reconnect, "replayed", buffered-p.Buffered())

	if p.opts.OnSet != nil {
		tok := p.client.Subscribe(p.opts.Topics.Set(), 1, p.handleSet)
		if !tok.WaitTimeout(publishTimeout) || tok.Error() != nil {
			p.log.Error(tok.Error(), "failed to subscribe", "topic", p.opts.Topics.Set())
		}
	}

	if reconnect && p.opts.OnReconnect != nil {
		p.opts.OnReconnect()
	}
}

func (p *RealPublisher) handleSet(_ paho.Client, m paho.Message) {
	on, ok := ParseSetCommand(m.Payload())
	if !ok {
		p.log.Info("ignoring invalid set command", "topic", m.Topic(), "payload", string(m.Payload()))
		return
	}
	p.log.Info("set command received", "on", on)
	p.opts.OnSet(on)
}

// PublishState sends a retained status change (QoS 1).
func (p *RealPublisher) PublishState(change logic.Change) error {
	payload, err := FormatStatePayload(change)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.opts.Topics.State(), payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.opts.Topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.hold(m)
		p.log.V(1).Info("mqtt offline, buffered message", "topic", m.topic)
		return nil
	}
	if err := p.flush(); err != nil {
		p.hold(m)
		return err
	}
	if err := p.send(m); err != nil {
		p.hold(m)
		return err
	}
	return nil
}

// flush sends buffered messages oldest first. The caller holds sendMu.
// On failure the unsent messages go back into the buffer in order.
func (p *RealPublisher) flush() error {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	for i, m := range pending {
		if err := p.send(m); err != nil {
			p.hold(pending[i:]...)
			return err
		}
	}
	return nil
}

func (p *RealPublisher) hold(msgs ...bufferedMsg) {
	p.mu.Lock()
	for _, m := range msgs {
		p.buffer.push(m)
	}
	p.mu.Unlock()
}

func (p *RealPublisher) send(m bufferedMsg) error {
	tok := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
