// Package surface holds display surfaces for pop-ups: an in-memory recorder,
// a console writer and a Telegram chat.
package surface

import (
	"context"
	"errors"
	"sync"

	"popupq/internal/element"
)

var ErrNotAttached = errors.New("surface: node is not attached")

// Op is one recorded surface call.
type Op struct {
	Kind string // "attach" or "detach"
	ID   string
	Text string
}

// Memory keeps attached nodes in memory and records every call.
// It is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	visible    []*element.Node
	ops        []Op
	maxVisible int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Attach(_ context.Context, n *element.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = append(m.visible, n)
	m.ops = append(m.ops, Op{Kind: "attach", ID: n.ID, Text: n.Text})
	if len(m.visible) > m.maxVisible {
		m.maxVisible = len(m.visible)
	}
	return nil
}

func (m *Memory) Detach(_ context.Context, n *element.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: "detach", ID: n.ID, Text: n.Text})
	for i, v := range m.visible {
		if v == n {
			m.visible = append(m.visible[:i], m.visible[i+1:]...)
			return nil
		}
	}
	return ErrNotAttached
}

// Visible returns the attached nodes.
func (m *Memory) Visible() []*element.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*element.Node(nil), m.visible...)
}

// Ops returns every recorded call in order.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// MaxVisible is the highest number of nodes attached at once.
func (m *Memory) MaxVisible() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxVisible
}
