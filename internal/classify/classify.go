// Package classify labels raw ledger frames. Frames come from the network
// and are untrusted: every function here fails soft.
package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/ledgersync/internal/types"
)

// Tag is what an event means for local derived state.
type Tag string

const (
	TagUnclassified Tag = "unclassified"
	TagChatMessage  Tag = "chat_message"
	TagReadReceipt  Tag = "read_receipt"
	TagAckReceipt   Tag = "ack_receipt"
	TagContextSync  Tag = "context_sync"
	TagLifecycle    Tag = "lifecycle"
	TagNotification Tag = "notification"
)

// ErrMalformed is returned by Decode for frames that are not ledger events.
var ErrMalformed = errors.New("malformed ledger frame")

// Decode parses one raw frame. Frames without an id or kind are rejected.
func Decode(raw []byte) (types.Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return types.Event{}, ErrMalformed
	}
	var ev types.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return types.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev.ID = strings.TrimSpace(ev.ID)
	if ev.ID == "" || ev.Kind == "" {
		return types.Event{}, ErrMalformed
	}
	return ev, nil
}

// Classify returns the event's tag. Receipts with unusable payloads are
// unclassified so they are appended rather than applied.
func Classify(ev types.Event) Tag {
	switch ev.Kind {
	case types.KindChatMessage:
		return TagChatMessage
	case types.KindChatRead:
		if _, ok := Receipt(ev); ok {
			return TagReadReceipt
		}
	case types.KindChatAck:
		if _, ok := Receipt(ev); ok {
			return TagAckReceipt
		}
	case types.KindContextSync:
		return TagContextSync
	case types.KindSystemNotify, types.KindSystemNotifyAck:
		return TagNotification
	default:
		if isLifecycle(ev.Kind) {
			return TagLifecycle
		}
	}
	return TagUnclassified
}

func isLifecycle(kind types.EventKind) bool {
	return strings.HasPrefix(string(kind), "actor.") || strings.HasPrefix(string(kind), "group.")
}

// IsChatMessage reports whether the event is a chat message.
func IsChatMessage(ev types.Event) bool { return Classify(ev) == TagChatMessage }

// IsReadReceipt reports whether the event is a usable read receipt.
func IsReadReceipt(ev types.Event) bool { return Classify(ev) == TagReadReceipt }

// IsAcknowledgement reports whether the event is a usable ack receipt.
func IsAcknowledgement(ev types.Event) bool { return Classify(ev) == TagAckReceipt }

// IsContextSync reports whether the event announces a context change.
func IsContextSync(ev types.Event) bool { return Classify(ev) == TagContextSync }

// ShouldRefreshRoster reports whether the event changes who is in the
// group or whether they are running.
func ShouldRefreshRoster(ev types.Event) bool {
	return Classify(ev) == TagLifecycle
}

// ShouldIncrementUnreadCounter reports whether a chat message should
// raise the unread badge. It does not while the operator is looking at
// the live tail of this conversation, nor for the operator's own sends.
func ShouldIncrementUnreadCounter(ev types.Event, viewingThisStream, scrolledToBottom bool) bool {
	if !IsChatMessage(ev) {
		return false
	}
	if ev.By == types.UserID {
		return false
	}
	return !(viewingThisStream && scrolledToBottom)
}

// Chat decodes the chat payload. ok is false for non-chat events and
// unusable payloads.
func Chat(ev types.Event) (types.ChatData, bool) {
	if ev.Kind != types.KindChatMessage {
		return types.ChatData{}, false
	}
	var data types.ChatData
	if len(ev.Data) == 0 {
		return data, true
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return types.ChatData{}, false
	}
	return data, true
}

// Receipt decodes a chat.read or chat.ack payload. Receipts missing either
// the actor or the target event are unusable.
func Receipt(ev types.Event) (types.ReceiptData, bool) {
	if ev.Kind != types.KindChatRead && ev.Kind != types.KindChatAck {
		return types.ReceiptData{}, false
	}
	var data types.ReceiptData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return types.ReceiptData{}, false
	}
	data.ActorID = strings.TrimSpace(data.ActorID)
	data.EventID = strings.TrimSpace(data.EventID)
	if data.ActorID == "" || data.EventID == "" {
		return types.ReceiptData{}, false
	}
	return data, true
}

// IsReply reports whether the event links back to an earlier message and
// returns the replied-to id.
func IsReply(ev types.Event) (string, bool) {
	data, ok := Chat(ev)
	if !ok {
		return "", false
	}
	replyTo := strings.TrimSpace(data.ReplyTo)
	return replyTo, replyTo != ""
}

// RequiresAck reports whether recipients must acknowledge the message.
func RequiresAck(ev types.Event) bool {
	data, ok := Chat(ev)
	return ok && data.Priority == types.PriorityAttention
}

// RequiresReply reports whether the message opens a reply obligation.
func RequiresReply(ev types.Event) bool {
	data, ok := Chat(ev)
	return ok && data.ReplyRequired
}
