package mqtt

import "github.com/go-logr/logr"

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 64

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// replayBuffer keeps the latest messages published while disconnected.
// A retained message supersedes any buffered retained message on the same
// topic, since the broker would only keep the last one anyway.
// Not safe for concurrent use; the caller synchronizes.
type replayBuffer struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // a message was dropped since the last drain
	log      logr.Logger
}

func newReplayBuffer(capacity int, log logr.Logger) *replayBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &replayBuffer{capacity: capacity, log: log}
}

func (r *replayBuffer) push(msg bufferedMsg) {
	if msg.retained {
		for i, m := range r.msgs {
			if m.retained && m.topic == msg.topic {
				r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
				break
			}
		}
	}
	if len(r.msgs) == r.capacity {
		if !r.overflow {
			r.log.Info("mqtt buffer full, dropping oldest", "capacity", r.capacity)
			r.overflow = true
		}
		r.msgs = r.msgs[1:]
	}
	r.msgs = append(r.msgs, msg)
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *replayBuffer) drainAll() []bufferedMsg {
	if len(r.msgs) == 0 {
		return nil
	}
	out := r.msgs
	r.msgs = nil
	r.overflow = false
	return out
}

func (r *replayBuffer) len() int {
	return len(r.msgs)
}
