// Package message defines the commands a page can post to the worker and
// the replies it gets back.
//
// On the wire a command is {"type": "...", "payload": {...}}. In process a
// command is one of the concrete types implementing Command, delivered in an
// Envelope together with an optional reply Port.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned when decoding an unsupported message type.
var ErrUnknownCommand = errors.New("unknown command")

// Type is the wire discriminator of a command.
type Type string

const (
	TypeSkipWaiting  Type = "SKIP_WAITING"
	TypeGetCacheSize Type = "GET_CACHE_SIZE"
	TypeClearCache   Type = "CLEAR_CACHE"
	TypeCacheData    Type = "CACHE_DATA"
	TypeSyncNow      Type = "SYNC_NOW"
)

// Command is a message understood by the worker. The set of implementations
// is closed.
type Command interface {
	Type() Type
	command()
}

// SkipWaiting asks a waiting worker to activate immediately.
type SkipWaiting struct{}

// GetCacheSize asks for the summed size of every cache.
type GetCacheSize struct{}

// ClearCache deletes every cache, current or not.
type ClearCache struct{}

// CacheData stores Data in the data store under Key.
type CacheData struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// SyncNow refreshes every cached data entry from the network.
type SyncNow struct{}

func (SkipWaiting) Type() Type  { return TypeSkipWaiting }
func (GetCacheSize) Type() Type { return TypeGetCacheSize }
func (ClearCache) Type() Type   { return TypeClearCache }
func (CacheData) Type() Type    { return TypeCacheData }
func (SyncNow) Type() Type      { return TypeSyncNow }

func (SkipWaiting) command()  {}
func (GetCacheSize) command() {}
func (ClearCache) command()   {}
func (CacheData) command()    {}
func (SyncNow) command()      {}

// Wire is the JSON form of a command.
type Wire struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a JSON message into a Command.
func Decode(b []byte) (Command, error) {
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return w.Command()
}

// Command converts the wire form into a Command.
func (w Wire) Command() (Command, error) {
	switch Type(strings.TrimSpace(string(w.Type))) {
	case TypeSkipWaiting:
		return SkipWaiting{}, nil
	case TypeGetCacheSize:
		return GetCacheSize{}, nil
	case TypeClearCache:
		return ClearCache{}, nil
	case TypeSyncNow:
		return SyncNow{}, nil
	case TypeCacheData:
		var cmd CacheData
		if len(w.Payload) == 0 {
			return nil, fmt.Errorf("%s: missing payload", TypeCacheData)
		}
		if err := json.Unmarshal(w.Payload, &cmd); err != nil {
			return nil, fmt.Errorf("%s payload: %w", TypeCacheData, err)
		}
		if cmd.Key == "" {
			return nil, fmt.Errorf("%s: missing key", TypeCacheData)
		}
		if len(cmd.Data) == 0 {
			cmd.Data = json.RawMessage("null")
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Type)
	}
}

// Encode serialises a command to its wire form.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("encode message: nil command")
	}
	w := Wire{Type: cmd.Type()}
	if c, ok := cmd.(CacheData); ok {
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", w.Type, err)
		}
		w.Payload = payload
	}
	return json.Marshal(w)
}
