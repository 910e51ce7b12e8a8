// Package element builds the renderable nodes pop-ups are made of.
//
// A Node is a plain description of something a display surface can show:
// its text, classification tags, identity, event handlers and auxiliary
// data. Surfaces decide what "attached" means (a terminal line, a chat
// message, a DOM node in a browser bridge).
package element

import (
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DefaultType is used when a Spec does not name a node type.
const DefaultType = "div"

// EventBinding binds a handler to a named event on the created node.
type EventBinding struct {
	Type    string
	Handler func(n *Node)
}

// Spec is the declarative description handed to a Factory.
type Spec struct {
	Type   string
	Text   string
	Tags   []string
	ID     string
	Events []EventBinding
	Data   map[string]string
}

// Node is a renderable handle. Fields are fixed at creation.
type Node struct {
	ID   string
	Type string
	Text string
	Tags []string
	Data map[string]string

	handlers map[string][]func(*Node)
}

// ClassName renders the tags the way a class attribute would.
func (n *Node) ClassName() string {
	if n == nil {
		return ""
	}
	return strings.Join(n.Tags, " ")
}

func (n *Node) HasTag(tag string) bool {
	if n == nil {
		return false
	}
	return slices.Contains(n.Tags, tag)
}

// Dispatch runs every handler bound to eventType and reports how many ran.
func (n *Node) Dispatch(eventType string) int {
	if n == nil {
		return 0
	}
	hs := n.handlers[eventType]
	for _, h := range hs {
		h(n)
	}
	return len(hs)
}

// Factory materializes nodes from specs.
type Factory interface {
	CreateNode(spec Spec) *Node
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(spec Spec) *Node

func (f FactoryFunc) CreateNode(spec Spec) *Node { return f(spec) }

// DefaultFactory copies the spec into a new Node, defaulting the type and
// assigning a random id when none is given.
type DefaultFactory struct {
	// NewID overrides id generation. Nil means uuid.NewString.
	NewID func() string
}

func (f DefaultFactory) CreateNode(spec Spec) *Node {
	n := &Node{
		ID:   spec.ID,
		Type: spec.Type,
		Text: spec.Text,
		Tags: splitTags(spec.Tags),
		Data: maps.Clone(spec.Data),
	}
	if n.Type == "" {
		n.Type = DefaultType
	}
	if n.ID == "" {
		if f.NewID != nil {
			n.ID = f.NewID()
		} else {
			n.ID = uuid.NewString()
		}
	}
	for _, ev := range spec.Events {
		if ev.Type == "" || ev.Handler == nil {
			continue
		}
		if n.handlers == nil {
			n.handlers = map[string][]func(*Node){}
		}
		n.handlers[ev.Type] = append(n.handlers[ev.Type], ev.Handler)
	}
	return n
}

// splitTags accepts both ["a", "b"] and ["a b"] and drops empties.
func splitTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.Fields(t)...)
	}
	return out
}
