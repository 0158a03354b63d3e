// Package models defines the records the node persists: local identities,
// contacts (local and remote actors), follow edges, posts with their parts
// and shares, and inbound queue items.
package models
