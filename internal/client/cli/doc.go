// Package cli provides the node admin command-line client.
//
// Commands run either one at a time from the process arguments
// ("fedictl queue run") or from an interactive REPL when no command is
// given. A login is kept in the session directory between runs.
//
// Commands:
//   - signup / login / logout / delete-account
//   - queue status|run [public], queue clear|discard <id>
//   - follow / unfollow <handle>
//   - post, reply <guid>, reshare <guid>, profile
package cli
