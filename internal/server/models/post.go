package models

import "time"

// Visibility is the federation class of a thread. The empty value means
// not assigned yet; once set it never changes.
type Visibility string

const (
	VisibilityUnset   Visibility = ""
	VisibilityPublic  Visibility = "public"
	VisibilityLimited Visibility = "limited"
	VisibilityPrivate Visibility = "private"
)

// Post is a content item. Replies point at their parent; the tree root
// carries the thread's visibility.
type Post struct {
	ID               int64
	AuthorID         int64
	ParentID         *int64
	GUID             string
	Visibility       Visibility
	CreatedAt        time.Time
	ThreadModifiedAt time.Time
}

// Part types.
const (
	PartText         = "text/plain"
	PartImage        = "image"
	PartPollQuestion = "application/x-poll-question"
	PartPollAnswer   = "application/x-poll-answer"
	PartReshareCard  = "application/x-reshare-card"
)

// Part is one ordered piece of a post. GUID identifies parts that remote
// messages refer to (poll questions, answers, photos) and is not unique:
// the same poll may appear in several local posts.
type Part struct {
	ID          int64
	PostID      int64
	GUID        string
	Type        string
	Body        []byte
	MediaKey    string
	TextPreview string
	Order       int
	Inline      bool
}

// Share records that a post is visible to a contact. Public marks the
// author's own share of a post placed on the public wall.
type Share struct {
	PostID    int64
	ContactID int64
	Public    bool
	Hidden    bool
	SharedAt  time.Time
}
