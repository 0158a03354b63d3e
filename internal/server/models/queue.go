package models

import "time"

// QueueItem is one received envelope waiting to be processed. IdentityID
// is nil for the public queue. A non-nil Error blocks its queue.
type QueueItem struct {
	ID         int64
	IdentityID *int64
	Format     string
	Body       []byte
	ReceivedAt time.Time
	Error      *string
}

const QueueFormatDiaspora = "diaspora"
