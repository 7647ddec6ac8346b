package core

import (
	"sort"
	"strings"

	"github.com/adamavenir/ledgersync/internal/types"
)

// Recipient tokens understood in a chat message's "to" list.
const (
	TokenAll     = "@all"
	TokenPeers   = "@peers"
	TokenForeman = "@foreman"
	TokenUser    = "@user"
)

// ResolveRecipients expands a "to" list into the actor ids expected to
// read the message. An empty list or @all addresses every actor; otherwise
// role tokens and literal actor ids are unioned. The author and the human
// operator are never recipients. Literal ids that are not on the roster
// are ignored. The result is sorted.
func ResolveRecipients(to []string, author string, actors []types.Actor) []string {
	known := make(map[string]types.Actor, len(actors))
	for _, actor := range actors {
		if actor.ID == "" {
			continue
		}
		known[actor.ID] = actor
	}

	selected := map[string]struct{}{}
	tokens := normalizeTokens(to)
	if len(tokens) == 0 || containsToken(tokens, TokenAll) {
		for id := range known {
			selected[id] = struct{}{}
		}
	} else {
		for _, token := range tokens {
			switch token {
			case TokenPeers:
				addRole(selected, known, types.RolePeer)
			case TokenForeman:
				addRole(selected, known, types.RoleForeman)
			case TokenUser, types.UserID:
			default:
				id := strings.TrimPrefix(token, "@")
				if _, ok := known[id]; ok {
					selected[id] = struct{}{}
				}
			}
		}
	}

	delete(selected, author)
	delete(selected, types.UserID)

	out := make([]string, 0, len(selected))
	for id := range selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalizeTokens(to []string) []string {
	tokens := make([]string, 0, len(to))
	for _, raw := range to {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

func containsToken(tokens []string, want string) bool {
	for _, token := range tokens {
		if token == want {
			return true
		}
	}
	return false
}

func addRole(selected map[string]struct{}, known map[string]types.Actor, role types.Role) {
	for id, actor := range known {
		if actor.Role == role {
			selected[id] = struct{}{}
		}
	}
}
