// Package nav turns external addresses of ledger events into group
// selections and windowed-view requests.
package nav

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/adamavenir/ledgersync/internal/types"
)

var (
	ErrGroupNotFound  = errors.New("group not found")
	ErrInvalidAddress = errors.New("invalid address")
)

// Host is the part of the session the coordinator drives.
type Host interface {
	SelectedGroup() string
	SelectGroup(groupID string)
	RequestWindow(groupID, eventID string)
}

type Options struct {
	Host   Host
	Logger *slog.Logger

	// OnAddress is called whenever the externally visible address changes.
	OnAddress func(address string)
	// OnError receives targets that could not be opened.
	OnError func(err error)
}

// Coordinator holds at most one pending target: an event in a group that
// has been selected but whose data has not loaded yet.
type Coordinator struct {
	host      Host
	logger    *slog.Logger
	onAddress func(string)
	onError   func(error)

	mu      sync.Mutex
	address string
	pending *types.DeepLink
	loaded  bool
	known   map[string]bool
}

func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnAddress == nil {
		opts.OnAddress = func(string) {}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	return &Coordinator{
		host:      opts.Host,
		logger:    opts.Logger,
		onAddress: opts.OnAddress,
		onError:   opts.OnError,
		known:     make(map[string]bool),
	}
}

// Address formats the external address of an event.
func Address(groupID, eventID string) string {
	return "/groups/" + url.PathEscape(groupID) + "/events/" + url.PathEscape(eventID)
}

// ParseAddress accepts "/groups/{group}/events/{event}" (optionally as a
// full URL) and the short "group#event" form.
func ParseAddress(raw string) (types.DeepLink, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.DeepLink{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if !strings.Contains(raw, "/") {
		groupID, eventID, ok := strings.Cut(raw, "#")
		if !ok || groupID == "" || eventID == "" {
			return types.DeepLink{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		return types.DeepLink{GroupID: groupID, EventID: eventID}, nil
	}

	path := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		path = parsed.EscapedPath()
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-4] != "groups" || parts[len(parts)-2] != "events" {
		return types.DeepLink{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	groupID, err := url.PathUnescape(parts[len(parts)-3])
	if err != nil {
		return types.DeepLink{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	eventID, err := url.PathUnescape(parts[len(parts)-1])
	if err != nil {
		return types.DeepLink{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if groupID == "" || eventID == "" {
		return types.DeepLink{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return types.DeepLink{GroupID: groupID, EventID: eventID}, nil
}

// OpenMessage navigates to an event. When its group is selected the
// window is requested now; otherwise the target is kept pending and the
// group selected.
func (c *Coordinator) OpenMessage(groupID, eventID string) error {
	if groupID == "" || eventID == "" {
		return fmt.Errorf("%w: group and event are required", ErrInvalidAddress)
	}
	address := Address(groupID, eventID)
	selected := c.host.SelectedGroup() == groupID

	c.mu.Lock()
	if c.loaded && !c.known[groupID] {
		c.pending = nil
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		c.onError(err)
		return err
	}
	c.address = address
	if selected {
		c.pending = nil
	} else {
		c.pending = &types.DeepLink{GroupID: groupID, EventID: eventID}
	}
	c.mu.Unlock()

	c.onAddress(address)
	if selected {
		c.host.RequestWindow(groupID, eventID)
		return nil
	}
	c.logger.Debug("deferring deep link until group loads", "group", groupID, "event", eventID)
	c.host.SelectGroup(groupID)
	return nil
}

// GroupsLoaded records the known groups. A pending target whose group is
// not among them is dropped and reported.
func (c *Coordinator) GroupsLoaded(groupIDs []string) {
	c.mu.Lock()
	c.loaded = true
	c.known = make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		c.known[id] = true
	}
	var missing string
	if c.pending != nil && !c.known[c.pending.GroupID] {
		missing = c.pending.GroupID
		c.pending = nil
	}
	c.mu.Unlock()

	if missing != "" {
		c.onError(fmt.Errorf("%w: %s", ErrGroupNotFound, missing))
	}
}

// GroupReady is called once a selected group's data has loaded; it
// consumes a pending target for that group.
func (c *Coordinator) GroupReady(groupID string) {
	c.mu.Lock()
	if c.pending == nil || c.pending.GroupID != groupID {
		c.mu.Unlock()
		return
	}
	target := *c.pending
	c.pending = nil
	c.mu.Unlock()

	c.host.RequestWindow(target.GroupID, target.EventID)
}

// SelectionChanged drops a pending target for any other group.
func (c *Coordinator) SelectionChanged(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.GroupID != groupID {
		c.pending = nil
	}
}

// Pending returns the target waiting for its group to load.
func (c *Coordinator) Pending() (types.DeepLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return types.DeepLink{}, false
	}
	return *c.pending, true
}

// CurrentAddress returns the last address opened.
func (c *Coordinator) CurrentAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}
