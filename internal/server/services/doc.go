// Package services holds the node's protocol logic: identity lifecycle,
// contact resolution, inbound dispatch with relaying, the outbound
// delivery planner and the inbound queue.
package services
