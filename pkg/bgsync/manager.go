package bgsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupported is returned by Register when no worker can receive sync
// events.
var ErrUnsupported = errors.New("background sync not supported")

// Dispatcher delivers a sync event to the worker.
type Dispatcher interface {
	HandleSync(ctx context.Context, tag string) error
}

// Manager tracks registered sync tags, like the browser's SyncManager.
// A tag stays pending until its sync event succeeds.
type Manager struct {
	mu         sync.Mutex
	dispatcher Dispatcher
	pending    map[string]bool
}

// NewManager creates a manager. A nil dispatcher yields an unsupported
// manager.
func NewManager(d Dispatcher) *Manager {
	return &Manager{
		dispatcher: d,
		pending:    make(map[string]bool),
	}
}

// Supported reports whether sync events can be delivered.
func (m *Manager) Supported() bool {
	return m != nil && m.dispatcher != nil
}

// Register marks tag as pending. Registering a pending tag again is a no-op.
func (m *Manager) Register(tag string) error {
	if !m.Supported() {
		return ErrUnsupported
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("sync tag cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[tag] = true
	return nil
}

// Tags lists the pending tags, sorted.
func (m *Manager) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags := make([]string, 0, len(m.pending))
	for tag := range m.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Fire delivers a sync event for every pending tag. Tags whose event
// succeeds are cleared; failed tags stay pending for the next Fire.
func (m *Manager) Fire(ctx context.Context) error {
	if !m.Supported() {
		return ErrUnsupported
	}

	var errs []error
	for _, tag := range m.Tags() {
		if err := m.dispatcher.HandleSync(ctx, tag); err != nil {
			errs = append(errs, fmt.Errorf("sync %q: %w", tag, err))
			continue
		}
		m.mu.Lock()
		delete(m.pending, tag)
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
