package room

import (
	"strings"

	"MentorLink/tools/errs"
)

// Key addresses one logical broadcast group: a direct conversation, a
// group conversation or a group call. Keys are derived, never stored;
// both sides of a direct conversation compute the same key because the
// participant pair is ordered before concatenation.
type Key string

const (
	directPrefix    = "d:"
	groupPrefix     = "g:"
	groupCallPrefix = "gc:"
	presencePrefix  = "p:"
	sep             = ":"
)

// Direct derives the canonical key for a 1:1 conversation. Order of the
// two user ids does not matter.
func Direct(a, b string) (Key, error) {
	if err := checkID(a); err != nil {
		return "", err
	}
	if err := checkID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", errs.ErrRoomInvalid.WithDetail("direct room needs two distinct users")
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return Key(directPrefix + lo + sep + hi), nil
}

// Group derives the key for a group conversation.
func Group(groupID string) (Key, error) {
	if err := checkID(groupID); err != nil {
		return "", err
	}
	return Key(groupPrefix + groupID), nil
}

// GroupCall derives the key for a group call room. It is distinct from
// the group conversation room so call traffic never leaks into chat.
func GroupCall(groupCallID string) (Key, error) {
	if err := checkID(groupCallID); err != nil {
		return "", err
	}
	return Key(groupCallPrefix + groupCallID), nil
}

// Presence derives the per-user presence channel key. A session joins
// its own user's channel; contact online/offline events are pushed
// there so only subscribed sessions see them.
func Presence(userID string) (Key, error) {
	if err := checkID(userID); err != nil {
		return "", err
	}
	return Key(presencePrefix + userID), nil
}

func (k Key) IsDirect() bool    { return strings.HasPrefix(string(k), directPrefix) }
func (k Key) IsGroup() bool     { return strings.HasPrefix(string(k), groupPrefix) }
func (k Key) IsGroupCall() bool { return strings.HasPrefix(string(k), groupCallPrefix) }
func (k Key) IsPresence() bool  { return strings.HasPrefix(string(k), presencePrefix) }

// DirectPeers returns the two participant ids of a direct key.
func (k Key) DirectPeers() (a, b string, ok bool) {
	if !k.IsDirect() {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(string(k), directPrefix), sep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DirectOther returns the counterpart of self in a direct key.
func (k Key) DirectOther(self string) (string, bool) {
	a, b, ok := k.DirectPeers()
	if !ok {
		return "", false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// GroupID returns the group identifier of a group-conversation key.
func (k Key) GroupID() (string, bool) {
	if !k.IsGroup() && !k.IsGroupCall() {
		return "", false
	}
	if k.IsGroupCall() {
		return strings.TrimPrefix(string(k), groupCallPrefix), true
	}
	return strings.TrimPrefix(string(k), groupPrefix), true
}

// Parse validates a client-supplied key string.
func Parse(s string) (Key, error) {
	k := Key(s)
	switch {
	case k.IsDirect():
		if _, _, ok := k.DirectPeers(); !ok {
			return "", errs.ErrRoomInvalid.WithDetail(s)
		}
	case k.IsGroupCall(), k.IsGroup():
		if id, ok := k.GroupID(); !ok || id == "" {
			return "", errs.ErrRoomInvalid.WithDetail(s)
		}
	case k.IsPresence():
		if strings.TrimPrefix(s, presencePrefix) == "" {
			return "", errs.ErrRoomInvalid.WithDetail(s)
		}
	default:
		return "", errs.ErrRoomInvalid.WithDetail(s)
	}
	return k, nil
}

func checkID(id string) error {
	if id == "" {
		return errs.ErrArgs.WithDetail("empty identifier")
	}
	if strings.Contains(id, sep) {
		return errs.ErrArgs.WithDetail("identifier must not contain ':'")
	}
	return nil
}
