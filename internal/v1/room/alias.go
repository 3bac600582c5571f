package room

import (
	"strings"

	"github.com/roomrelay/signaling-server/internal/v1/domain"
)

// aliasClaimResult is the outcome of an attempted alias assignment.
type aliasClaimResult int

const (
	aliasClaimed aliasClaimResult = iota
	aliasInvalid
	aliasTaken
)

// tryClaimAlias normalizes rawName and attempts to bind it to peerID.
// A claim for an alias this peer already holds is a no-op success; a claim
// for an alias held by a different peer fails with aliasTaken until the
// maintenance tick's TTL-driven GC frees it.
func (r *Room) tryClaimAlias(peerID domain.PeerID, rawName string) (string, aliasClaimResult) {
	name, ok := normalizeAlias(rawName)
	if !ok {
		return "", aliasInvalid
	}
	if owner, exists := r.aliases[name]; exists && owner != peerID {
		return "", aliasTaken
	}
	peer := r.peers[peerID]
	if peer == nil {
		return "", aliasInvalid
	}
	if peer.Alias == name {
		return name, aliasClaimed
	}
	if peer.Alias != "" {
		delete(r.aliases, peer.Alias)
	}
	r.aliases[name] = peerID
	peer.Alias = name
	return name, aliasClaimed
}

// normalizeAlias lowercases name and reports whether the result satisfies
// the alias charset: length 2-32, `[a-z0-9][a-z0-9_.-]*`.
func normalizeAlias(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) < 2 || len(n) > 32 {
		return "", false
	}
	for i, c := range n {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case i > 0 && (c == '_' || c == '.' || c == '-'):
		default:
			return "", false
		}
	}
	return n, true
}
