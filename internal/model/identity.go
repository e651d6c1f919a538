package model

import "strings"

// Role is the authorization class of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Identity is who a connection or request acts as, resolved from a token.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// User is a directory entry used to resolve actor roles.
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Topic channels any authenticated connection may join.
const (
	ChannelLoans       = "loans"
	ChannelMarketplace = "marketplace"
)

const privateChannelPrefix = "user:"

// PrivateChannel returns the channel scoped to a single user's connections.
func PrivateChannel(userID string) string {
	return privateChannelPrefix + userID
}

// ChannelKind classifies a channel name.
type ChannelKind int

const (
	ChannelInvalid ChannelKind = iota
	ChannelTopic
	ChannelPrivate
)

// ParseChannel classifies a channel name. For private channels it also
// returns the owning user id.
func ParseChannel(name string) (ChannelKind, string) {
	switch name {
	case ChannelLoans, ChannelMarketplace:
		return ChannelTopic, ""
	}
	if owner, ok := strings.CutPrefix(name, privateChannelPrefix); ok && owner != "" {
		return ChannelPrivate, owner
	}
	return ChannelInvalid, ""
}
