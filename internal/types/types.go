package types

import (
	"encoding/json"
	"time"
)

// UserID is the literal author/recipient token for the human operator.
const UserID = "user"

// EventKind tags a ledger event.
type EventKind string

const (
	KindChatMessage     EventKind = "chat.message"
	KindChatRead        EventKind = "chat.read"
	KindChatAck         EventKind = "chat.ack"
	KindContextSync     EventKind = "context.sync"
	KindActorAdd        EventKind = "actor.add"
	KindActorUpdate     EventKind = "actor.update"
	KindActorRemove     EventKind = "actor.remove"
	KindActorStart      EventKind = "actor.start"
	KindActorStop       EventKind = "actor.stop"
	KindActorRestart    EventKind = "actor.restart"
	KindGroupCreate     EventKind = "group.create"
	KindGroupUpdate     EventKind = "group.update"
	KindGroupStart      EventKind = "group.start"
	KindGroupStop       EventKind = "group.stop"
	KindGroupSetState   EventKind = "group.set_state"
	KindSystemNotify    EventKind = "system.notify"
	KindSystemNotifyAck EventKind = "system.notify_ack"
)

// Event is one ledger record. Events are immutable once observed; ID is
// the only deduplication key.
type Event struct {
	ID       string          `json:"id"`
	TS       string          `json:"ts"`
	Kind     EventKind       `json:"kind"`
	GroupID  string          `json:"group_id,omitempty"`
	ScopeKey string          `json:"scope_key,omitempty"`
	By       string          `json:"by"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Time parses TS. Returns the zero time when TS is missing or malformed.
func (e Event) Time() time.Time {
	if e.TS == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Priority values for chat messages.
const (
	PriorityNormal    = "normal"
	PriorityAttention = "attention"
)

// ChatData is the payload of a chat.message event.
type ChatData struct {
	Text          string   `json:"text"`
	To            []string `json:"to,omitempty"`
	ReplyTo       string   `json:"reply_to,omitempty"`
	QuoteText     string   `json:"quote_text,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	ReplyRequired bool     `json:"reply_required,omitempty"`
}

// ReceiptData is the payload of chat.read and chat.ack events.
type ReceiptData struct {
	ActorID string `json:"actor_id"`
	EventID string `json:"event_id"`
}

// Role is an actor's role within a group.
type Role string

const (
	RoleForeman Role = "foreman"
	RolePeer    Role = "peer"
)

// Actor is a member of a group's roster.
type Actor struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Title   string `json:"title,omitempty"`
	Runtime string `json:"runtime,omitempty"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
}

// Scope is a project scope attached to a group.
type Scope struct {
	ScopeKey string `json:"scope_key"`
	URL      string `json:"url,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Group is the group document.
type Group struct {
	ID             string  `json:"group_id"`
	Title          string  `json:"title"`
	State          string  `json:"state,omitempty"`
	Running        bool    `json:"running"`
	ActiveScopeKey string  `json:"active_scope_key,omitempty"`
	Scopes         []Scope `json:"scopes,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

// ScopeLabel returns the label of the active scope, falling back to its
// key. Empty when no scope is active.
func (g Group) ScopeLabel() string {
	if g.ActiveScopeKey == "" {
		return ""
	}
	for _, scope := range g.Scopes {
		if scope.ScopeKey != g.ActiveScopeKey {
			continue
		}
		if scope.Label != "" {
			return scope.Label
		}
		return scope.ScopeKey
	}
	return g.ActiveScopeKey
}

// GroupContext is the structured context document of a group.
type GroupContext struct {
	Version    string      `json:"version,omitempty"`
	Vision     string      `json:"vision,omitempty"`
	Sketch     string      `json:"sketch,omitempty"`
	Milestones []Milestone `json:"milestones,omitempty"`
	Tasks      []Task      `json:"tasks,omitempty"`
	Notes      []Note      `json:"notes,omitempty"`
}

// Milestone is a context milestone.
type Milestone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Task is a context task.
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// Note is a context note.
type Note struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Selection identifies one selection of a group. Gen increases on every
// selection change, so two selections of the same group are distinct.
type Selection struct {
	GroupID string
	Gen     uint64
}

// ConnState is the push-stream connection state.
type ConnState string

const (
	ConnIdle         ConnState = "idle"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// ConnectionStatus is the observable connection state of the stream.
type ConnectionStatus struct {
	GroupID string        `json:"group_id,omitempty"`
	State   ConnState     `json:"state"`
	Backoff time.Duration `json:"backoff"`
	Errors  int           `json:"errors"`
	Polling bool          `json:"polling,omitempty"`
}

// DeepLink is an externally addressable (group, event) pair.
type DeepLink struct {
	GroupID string `json:"group_id"`
	EventID string `json:"event_id"`
}

// Window is the windowed view around a focused event.
type Window struct {
	GroupID string  `json:"group_id"`
	EventID string  `json:"event_id"`
	Found   bool    `json:"found"`
	Events  []Event `json:"events"`
}
