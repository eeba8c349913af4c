package message

import (
	"context"
	"errors"
)

// ErrNoReply is returned by Port.Wait when the handler dropped the port.
var ErrNoReply = errors.New("no reply")

// SizeReply answers GET_CACHE_SIZE.
type SizeReply struct {
	Size int64 `json:"size"`
}

// AckReply answers CLEAR_CACHE and CACHE_DATA.
type AckReply struct {
	Success bool `json:"success"`
}

// SyncOutcome is the result of refreshing one data key.
type SyncOutcome struct {
	Key       string `json:"key"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SyncReply answers SYNC_NOW. Success is true only when every key refreshed.
type SyncReply struct {
	Success  bool          `json:"success"`
	Outcomes []SyncOutcome `json:"outcomes"`
}

// Reply is what the worker sends back on a Port.
type Reply struct {
	Payload any
	Err     error
}

// Port is a one-shot reply channel, the equivalent of a MessageChannel port.
type Port chan Reply

// NewPort creates a port that accepts a single reply without blocking.
func NewPort() Port {
	return make(Port, 1)
}

// Send delivers a reply. Sending on a nil port or a second time is a no-op.
func (p Port) Send(r Reply) {
	if p == nil {
		return
	}
	select {
	case p <- r:
	default:
	}
}

// Wait blocks for the reply or until ctx is done.
func (p Port) Wait(ctx context.Context) (Reply, error) {
	select {
	case r, ok := <-p:
		if !ok {
			return Reply{}, ErrNoReply
		}
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Envelope carries a command and the port its reply goes to. Port may be
// nil for fire-and-forget commands.
type Envelope struct {
	Command Command
	Port    Port
}
