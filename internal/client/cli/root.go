package cli

import (
	"context"
	"fmt"
)

func (a *App) getStatus() string {
	s := ""
	if a.handle != "" {
		s = a.handle + " "
	}
	if a.isLoggedIn() {
		s += "online"
	} else {
		s += "logged out"
	}
	return fmt.Sprintf("(%s)", s)
}

// Root runs the interactive REPL until EOF or "exit".
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "fedinode admin CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}
