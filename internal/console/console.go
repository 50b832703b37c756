// Package console implements a terminal UI that lists transfers of a server with live status.
package console

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/rainhub/internal/rpctypes"
	"github.com/cenkalti/rainhub/rpcclient"
	"github.com/jroimartin/gocui"
)

const (
	viewTransfers = "transfers"
	viewHelp      = "help"

	refreshInterval = time.Second
	nameWidth       = 24
)

// Console is a live view of transfers.
type Console struct {
	client *rpcclient.RPCClient

	m         sync.Mutex
	transfers []rpctypes.Transfer
	lines     map[string]string
	selected  int
	err       error

	stopUpdating chan struct{}
	updated      chan struct{}
}

// New returns a Console that reads from clt.
func New(clt *rpcclient.RPCClient) *Console {
	return &Console{
		client:       clt,
		lines:        make(map[string]string),
		stopUpdating: make(chan struct{}),
		updated:      make(chan struct{}, 1),
	}
}

// Run the UI until the user quits.
func (c *Console) Run() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()

	g.SetManagerFunc(c.layout)
	if err = c.keybindings(g); err != nil {
		return err
	}

	go c.updateLoop(g)
	defer close(c.stopUpdating)

	err = g.MainLoop()
	if err == gocui.ErrQuit {
		err = nil
	}
	return err
}

func (c *Console) keybindings(g *gocui.Gui) error {
	bindings := []struct {
		key     interface{}
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, quit},
		{'q', quit},
		{'j', c.cursorDown},
		{gocui.KeyArrowDown, c.cursorDown},
		{'k', c.cursorUp},
		{gocui.KeyArrowUp, c.cursorUp},
		{'p', c.action((*rpcclient.RPCClient).PauseTransfer)},
		{'r', c.action((*rpcclient.RPCClient).ResumeTransfer)},
		{'s', c.action((*rpcclient.RPCClient).StopTransfer)},
	}
	for _, b := range bindings {
		if err := g.SetKeybinding("", b.key, gocui.ModNone, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	v, err := g.SetView(viewTransfers, 0, 0, maxX-1, maxY-3)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Transfers"
		v.Highlight = true
		v.SelBgColor = gocui.ColorGreen
		v.SelFgColor = gocui.ColorBlack
		if _, err = g.SetCurrentView(viewTransfers); err != nil {
			return err
		}
	}
	c.drawTransfers(v, maxX-2)

	h, err := g.SetView(viewHelp, 0, maxY-3, maxX-1, maxY-1)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		h.Frame = false
	}
	h.Clear()
	c.m.Lock()
	if c.err != nil {
		fmt.Fprintln(h, "error:", c.err)
	} else {
		fmt.Fprintln(h, "j/k: move    p: pause    r: resume    s: stop    q: quit")
	}
	c.m.Unlock()
	return nil
}

func (c *Console) drawTransfers(v *gocui.View, width int) {
	c.m.Lock()
	defer c.m.Unlock()
	v.Clear()
	for _, t := range c.transfers {
		fmt.Fprintln(v, formatRow(t, c.lines[t.ID], width))
	}
	_ = v.SetCursor(0, c.selected)
}

// formatRow returns the row of a transfer cut to width.
func formatRow(t rpctypes.Transfer, line string, width int) string {
	name := t.Name
	if len([]rune(name)) > nameWidth {
		name = string([]rune(name)[:nameWidth-1]) + "…"
	}
	row := fmt.Sprintf("%3d  %-*s  %s", t.Index, nameWidth, name, line)
	if width > 0 && len([]rune(row)) > width {
		row = string([]rune(row)[:width])
	}
	return strings.TrimRight(row, " ")
}

func (c *Console) updateLoop(g *gocui.Gui) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		c.refresh()
		g.Update(func(g *gocui.Gui) error { return nil })
		select {
		case <-ticker.C:
		case <-c.updated:
		case <-c.stopUpdating:
			return
		}
	}
}

func (c *Console) refresh() {
	transfers, err := c.client.ListTransfers()
	lines := make(map[string]string, len(transfers))
	if err == nil {
		for _, t := range transfers {
			line, err2 := c.client.GetStatusLine(t.ID)
			if err2 != nil {
				// Removed in between.
				continue
			}
			lines[t.ID] = line
		}
	}
	c.m.Lock()
	defer c.m.Unlock()
	c.err = err
	if err != nil {
		return
	}
	c.transfers = transfers
	c.lines = lines
	if c.selected >= len(transfers) {
		c.selected = len(transfers) - 1
	}
	if c.selected < 0 {
		c.selected = 0
	}
}

func (c *Console) cursorDown(g *gocui.Gui, v *gocui.View) error {
	c.m.Lock()
	if c.selected < len(c.transfers)-1 {
		c.selected++
	}
	c.m.Unlock()
	return nil
}

func (c *Console) cursorUp(g *gocui.Gui, v *gocui.View) error {
	c.m.Lock()
	if c.selected > 0 {
		c.selected--
	}
	c.m.Unlock()
	return nil
}

// action returns a key handler that calls fn with the ID of the selected transfer.
func (c *Console) action(fn func(*rpcclient.RPCClient, string) error) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, v *gocui.View) error {
		c.m.Lock()
		var id string
		if c.selected < len(c.transfers) {
			id = c.transfers[c.selected].ID
		}
		c.m.Unlock()
		if id == "" {
			return nil
		}
		go func() {
			err := fn(c.client, id)
			c.m.Lock()
			c.err = err
			c.m.Unlock()
			select {
			case c.updated <- struct{}{}:
			default:
			}
		}()
		return nil
	}
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
