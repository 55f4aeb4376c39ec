package domain

import (
	"fmt"
	"strings"
)

// RoomKeySeparator splits a room key into its domain and session halves.
const RoomKeySeparator = "__"

// RoomKey addresses exactly one call: "<domainId>__<sessionId>".
type RoomKey string

// ParseRoomKey splits key into its domain and session parts.
// A key must contain exactly one separator and both halves must be non-empty.
func ParseRoomKey(key string) (domainID, sessionID string, err error) {
	parts := strings.Split(key, RoomKeySeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewError(CodeInvalidRoomKey, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key))
	}
	return parts[0], parts[1], nil
}

// NewRoomKey joins a domain and a session id.
func NewRoomKey(domainID, sessionID string) (RoomKey, error) {
	k := domainID + RoomKeySeparator + sessionID
	if _, _, err := ParseRoomKey(k); err != nil {
		return "", err
	}
	return RoomKey(k), nil
}

func (k RoomKey) String() string { return string(k) }

// DomainID returns the tenant part of a key that already passed ParseRoomKey.
func (k RoomKey) DomainID() string {
	d, _, _ := ParseRoomKey(string(k))
	return d
}
