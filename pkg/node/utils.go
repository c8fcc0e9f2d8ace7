package node

import (
	"net"
	"strings"
)

// normalizeHostPort cuts the http:// https:// prefixes from the input address
// adds a default port
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

// OwnerForKey walks the key's replica preference list (primary first,
// then the next rf-1 ring successors) and returns the first one whose
// last ApplyMembership verdict is reachable (swim's Alive or Suspect;
// a member with no verdict counts as reachable). fallback reports
// whether that's the primary (false) or a successor picked because the
// primary was marked unreachable (true) — handlers.go surfaces this on
// the response so a client can tell a degraded route from a normal
// one. If every candidate in the list is marked unreachable, the
// primary is still returned (ok stays true) rather than refusing the
// request.
func (s *Node) OwnerForKey(key string) (ownerHP, selfHP string, fallback bool, ok bool) {
	rf := s.rf
	if rf < 1 {
		rf = 1
	}
	candidates := s.ring.LookupN([]byte(key), rf)
	if len(candidates) == 0 {
		return "", "", false, false
	}

	ownerID := candidates[0]
	for _, id := range candidates {
		if s.isReachable(id) {
			ownerID = id
			fallback = id != candidates[0]
			break
		}
	}

	ownerAddr, ok := s.ring.Addr(ownerID)
	if !ok || ownerAddr == "" {
		return "", "", false, false
	}
	return NormalizeHostPort(ownerAddr, "8080"), NormalizeHostPort(s.addr, "8080"), fallback, true
}
