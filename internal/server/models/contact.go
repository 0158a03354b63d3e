package models

import "time"

// Contact is any actor the node knows about. Local identities have a
// contact row too (Local set), so follows and shares treat both alike.
type Contact struct {
	ID          int64
	Handle      string
	GUID        string
	ServerURL   string
	PublicKey   string
	DisplayName string
	Bio         string
	AvatarKey   string
	Tags        []string
	Local       bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Follow is a one-way subscription edge.
type Follow struct {
	FollowerID int64
	FollowedID int64
	CreatedAt  time.Time
}
