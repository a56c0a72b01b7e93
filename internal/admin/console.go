package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"autobump/internal/domain"
	"autobump/internal/registry"
	"autobump/internal/scheduler"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	readyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	waitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

const menu = `
========== CONFIG MANAGER ==========
1. Resume auto-bump loop
2. List accounts
3. Register account
4. Remove account
5. List channels
6. Register channel
7. Change channel
8. Remove channel
9. Reorder channels
0. Exit
====================================`

// Console is the operator text menu. It implements scheduler.Operator.
type Console struct {
	mgr *Manager
	in  io.Reader
	out io.Writer

	startOnce sync.Once
	lines     chan string
}

func NewConsole(mgr *Manager, in io.Reader, out io.Writer) *Console {
	return &Console{mgr: mgr, in: in, out: out, lines: make(chan string)}
}

// readLoop feeds lines until in hits EOF, then closes lines.
func (c *Console) readLoop() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	close(c.lines)
}

var errInterrupted = errors.New("interrupted")

// prompt prints label and waits for one line. ctx cancellation and
// interrupts abort the wait.
func (c *Console) prompt(ctx context.Context, interrupts <-chan struct{}, label string) (string, error) {
	c.startOnce.Do(func() { go c.readLoop() })
	if label != "" {
		fmt.Fprint(c.out, label)
	}
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-interrupts:
		fmt.Fprintln(c.out)
		return "", errInterrupted
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Configure runs the menu until the operator resumes or exits.
func (c *Console) Configure(ctx context.Context, interrupts <-chan struct{}) scheduler.Event {
	for {
		fmt.Fprintln(c.out, menu)
		choice, err := c.prompt(ctx, interrupts, "Select an option: ")
		if ev, done := c.endOn(ctx, interrupts, err); done {
			return ev
		}

		var actionErr error
		switch choice {
		case "1":
			fmt.Fprintln(c.out, "Resuming auto-bump loop...")
			return scheduler.EventResume
		case "2":
			fmt.Fprintln(c.out, RenderAccounts(c.mgr.Accounts(), c.mgr.Now()))
			actionErr = c.pause(ctx, interrupts)
		case "3":
			actionErr = c.registerAccount(ctx, interrupts)
		case "4":
			actionErr = c.removeAccount(ctx, interrupts)
		case "5":
			fmt.Fprintln(c.out, RenderChannels(c.mgr.Channels(), c.mgr.Now(), false))
			actionErr = c.pause(ctx, interrupts)
		case "6":
			actionErr = c.registerChannel(ctx, interrupts)
		case "7":
			actionErr = c.changeChannel(ctx, interrupts)
		case "8":
			actionErr = c.removeChannel(ctx, interrupts)
		case "9":
			actionErr = c.reorder(ctx, interrupts)
		case "0":
			return scheduler.EventExit
		default:
			fmt.Fprintln(c.out, errStyle.Render("Invalid option."))
		}
		if ev, done := c.endOn(ctx, interrupts, actionErr); done {
			return ev
		}
	}
}

// endOn maps a prompt error to the event that ends Configure.
func (c *Console) endOn(ctx context.Context, interrupts <-chan struct{}, err error) (scheduler.Event, bool) {
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, errInterrupted):
		return scheduler.EventInterrupt, true
	case errors.Is(err, io.EOF):
		// No operator input left: wait for a signal.
		select {
		case <-interrupts:
			return scheduler.EventInterrupt, true
		case <-ctx.Done():
			return scheduler.EventExit, true
		}
	default:
		return scheduler.EventExit, true
	}
}

func (c *Console) pause(ctx context.Context, interrupts <-chan struct{}) error {
	_, err := c.prompt(ctx, interrupts, "Press Enter to continue...")
	return err
}

func (c *Console) report(err error) {
	fmt.Fprintln(c.out, errStyle.Render("Error: "+err.Error()))
}

func (c *Console) registerAccount(ctx context.Context, interrupts <-chan struct{}) error {
	token, err := c.prompt(ctx, interrupts, "Account token: ")
	if err != nil {
		return err
	}
	acc, err := c.mgr.RegisterAccount(ctx, token)
	switch {
	case errors.Is(err, registry.ErrDuplicate):
		fmt.Fprintf(c.out, "Account '%s' (ID: %s) is already registered.\n", acc.Name, acc.ID)
	case err != nil:
		c.report(err)
	default:
		fmt.Fprintln(c.out, okStyle.Render(fmt.Sprintf("Account '%s' (ID: %s) saved.", acc.Name, acc.ID)))
	}
	return nil
}

func (c *Console) removeAccount(ctx context.Context, interrupts <-chan struct{}) error {
	id, err := c.prompt(ctx, interrupts, "Account ID to remove: ")
	if err != nil {
		return err
	}
	acc, err := c.mgr.RemoveAccount(ctx, id)
	if err != nil {
		c.report(err)
		return nil
	}
	fmt.Fprintf(c.out, "Account '%s' (ID: %s) removed.\n", acc.Name, acc.ID)
	return nil
}

func (c *Console) registerChannel(ctx context.Context, interrupts <-chan struct{}) error {
	guildID, err := c.prompt(ctx, interrupts, "Server ID: ")
	if err != nil {
		return err
	}
	channelID, err := c.prompt(ctx, interrupts, "Channel ID: ")
	if err != nil {
		return err
	}
	ch, err := c.mgr.RegisterChannel(ctx, guildID, channelID)
	switch {
	case errors.Is(err, registry.ErrDuplicate):
		fmt.Fprintf(c.out, "Server '%s' is already registered.\n", ch.GuildName)
	case err != nil:
		c.report(err)
	default:
		fmt.Fprintln(c.out, okStyle.Render(fmt.Sprintf("Server '%s' (ID: %s) saved with channel '%s' (ID: %s).", ch.GuildName, ch.GuildID, ch.ChannelName, ch.ChannelID)))
	}
	return nil
}

func (c *Console) changeChannel(ctx context.Context, interrupts <-chan struct{}) error {
	guildID, err := c.prompt(ctx, interrupts, "Server ID: ")
	if err != nil {
		return err
	}
	channelID, err := c.prompt(ctx, interrupts, "New channel ID: ")
	if err != nil {
		return err
	}
	changed, err := c.mgr.UpdateChannel(ctx, guildID, channelID)
	switch {
	case err != nil:
		c.report(err)
	case !changed:
		fmt.Fprintln(c.out, "Channel is unchanged.")
	default:
		ch, _ := c.mgr.reg.Channel(guildID)
		fmt.Fprintf(c.out, "Channel for server '%s' is now '%s'.\n", ch.GuildName, ch.ChannelName)
	}
	return nil
}

func (c *Console) removeChannel(ctx context.Context, interrupts <-chan struct{}) error {
	guildID, err := c.prompt(ctx, interrupts, "Server ID to remove: ")
	if err != nil {
		return err
	}
	ch, err := c.mgr.RemoveChannel(ctx, guildID)
	if err != nil {
		c.report(err)
		return nil
	}
	fmt.Fprintf(c.out, "Server '%s' (ID: %s) removed.\n", ch.GuildName, ch.GuildID)
	return nil
}

func (c *Console) reorder(ctx context.Context, interrupts <-chan struct{}) error {
	channels := c.mgr.Channels()
	if len(channels) == 0 {
		fmt.Fprintln(c.out, errStyle.Render("No servers found."))
		return nil
	}
	fmt.Fprintln(c.out, RenderChannels(channels, c.mgr.Now(), true))
	line, err := c.prompt(ctx, interrupts, "New order (indexes, e.g. 2,1,3): ")
	if err != nil {
		return err
	}
	ids, err := parseOrder(line, channels)
	if err != nil {
		c.report(err)
		return nil
	}
	changed, err := c.mgr.Reorder(ctx, ids)
	switch {
	case err != nil:
		c.report(err)
	case !changed:
		fmt.Fprintln(c.out, waitStyle.Render("New order is the same as before, no changes."))
	default:
		fmt.Fprintln(c.out, okStyle.Render("Server order changed."))
	}
	return nil
}

// parseOrder turns 1-based indexes into guild ids.
func parseOrder(line string, channels []domain.Channel) ([]string, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' })
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(channels) {
			return nil, fmt.Errorf("%w: %q is not an index between 1 and %d", ErrValidationFailed, f, len(channels))
		}
		ids = append(ids, channels[n-1].GuildID)
	}
	return ids, nil
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func styledStatus(nextBump int64, now time.Time) string {
	s := domain.StatusText(nextBump, now)
	if s == "ready" {
		return readyStyle.Render(s)
	}
	return waitStyle.Render(s)
}

// RenderAccounts draws the accounts table.
func RenderAccounts(accounts []domain.Account, now time.Time) string {
	if len(accounts) == 0 {
		return errStyle.Render("No accounts found.")
	}
	t := newTable().Headers("ID", "Name", "Status")
	for _, a := range accounts {
		t.Row(a.ID, a.Name, styledStatus(a.NextBump, now))
	}
	return titleStyle.Render("Registered accounts") + "\n" + t.String()
}

// RenderChannels draws the channels table; indexed is the reorder view.
func RenderChannels(channels []domain.Channel, now time.Time, indexed bool) string {
	if len(channels) == 0 {
		return errStyle.Render("No servers found.")
	}
	title := titleStyle.Render(fmt.Sprintf("Registered servers (%d)", len(channels)))
	if indexed {
		t := newTable().Headers("Index", "Server")
		for i, c := range channels {
			t.Row(strconv.Itoa(i+1), c.GuildName)
		}
		return title + "\n" + t.String()
	}
	t := newTable().Headers("Server", "Target channel", "Status")
	for _, c := range channels {
		name := c.ChannelName
		if name == "" {
			name = domain.NoChannelName
		}
		t.Row(c.GuildName, name, styledStatus(c.NextBump, now))
	}
	return title + "\n" + t.String()
}
