package surface

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"popupq/internal/element"
)

// Console prints pop-ups as lines on a writer:
//
//	[error] Database unreachable
//	[error] (retired) Database unreachable
type Console struct {
	mu          sync.Mutex
	w           io.Writer
	showRetired bool
}

// NewConsole writes shown pop-ups to w. With showRetired, detaches are
// printed too.
func NewConsole(w io.Writer, showRetired bool) *Console {
	return &Console{w: w, showRetired: showRetired}
}

func (c *Console) Attach(_ context.Context, n *element.Node) error {
	return c.write(n, false)
}

func (c *Console) Detach(_ context.Context, n *element.Node) error {
	if !c.showRetired {
		return nil
	}
	return c.write(n, true)
}

func (c *Console) write(n *element.Node, retired bool) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(label(n))
	b.WriteString("] ")
	if retired {
		b.WriteString("(retired) ")
	}
	b.WriteString(n.Text)
	b.WriteString("\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, b.String()); err != nil {
		return fmt.Errorf("console surface: %w", err)
	}
	return nil
}

// label picks the most specific tag, skipping the generic "popup" class.
func label(n *element.Node) string {
	for i := len(n.Tags) - 1; i >= 0; i-- {
		if t := n.Tags[i]; t != "" && t != "popup" {
			return t
		}
	}
	return "popup"
}
