package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

var errUsage = errors.New("usage")

// execIface defines the command surface the dispatcher needs.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Ping(ctx context.Context) error
	Signup(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
	QueueStatus(ctx context.Context, public bool) error
	QueueRun(ctx context.Context, public bool) error
	QueueClear(ctx context.Context, id int64) error
	QueueDiscard(ctx context.Context, id int64) error
	Follow(ctx context.Context, handle string, unfollow bool) error
	Post(ctx context.Context) error
	Reply(ctx context.Context, guid string) error
	Reshare(ctx context.Context, guid string) error
	Profile(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: ping, signup, login, exit"
	helpLoggedIn  = "Available commands: queue status|run [public], queue clear|discard <id>, follow <handle>, unfollow <handle>, post, reply <guid>, reshare <guid>, profile, logout, delete-account, exit"
)

// execute runs one command line. quit reports that the user asked to leave.
func execute(ctx context.Context, a execIface, parts []string) (quit bool, err error) {
	cmd, args := parts[0], parts[1:]

	arg := func(i int) (string, error) {
		if len(args) <= i {
			return "", fmt.Errorf("%w: %s", errUsage, usage(cmd))
		}
		return args[i], nil
	}

	switch cmd {
	case "help":
		if a.isLoggedIn() {
			printlnFn(helpLoggedIn)
		} else {
			printlnFn(helpLoggedOut)
		}
		return false, nil

	case "exit", "quit":
		printlnFn("Bye!")
		return true, nil

	case "ping":
		return false, a.Ping(ctx)
	case "signup":
		return false, a.Signup(ctx)
	case "login":
		return false, a.Login(ctx)
	case "logout":
		return false, a.Logout(ctx)
	case "delete-account":
		return false, a.DeleteAccount(ctx)

	case "queue":
		sub, err := arg(0)
		if err != nil {
			return false, err
		}
		public := len(args) > 1 && args[1] == "public"
		switch sub {
		case "status":
			return false, a.QueueStatus(ctx, public)
		case "run":
			return false, a.QueueRun(ctx, public)
		case "clear", "discard":
			s, err := arg(1)
			if err != nil {
				return false, err
			}
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return false, fmt.Errorf("%w: item id must be a number", errUsage)
			}
			if sub == "clear" {
				return false, a.QueueClear(ctx, id)
			}
			return false, a.QueueDiscard(ctx, id)
		default:
			return false, fmt.Errorf("%w: %s", errUsage, usage(cmd))
		}

	case "follow", "unfollow":
		h, err := arg(0)
		if err != nil {
			return false, err
		}
		return false, a.Follow(ctx, h, cmd == "unfollow")

	case "post":
		return false, a.Post(ctx)
	case "reply":
		g, err := arg(0)
		if err != nil {
			return false, err
		}
		return false, a.Reply(ctx, g)
	case "reshare":
		g, err := arg(0)
		if err != nil {
			return false, err
		}
		return false, a.Reshare(ctx, g)
	case "profile":
		return false, a.Profile(ctx)

	default:
		return false, fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage(cmd string) string {
	switch cmd {
	case "queue":
		return "queue status|run [public] | queue clear|discard <id>"
	case "follow", "unfollow":
		return cmd + " <user@host>"
	case "reply", "reshare":
		return cmd + " <guid>"
	default:
		return cmd
	}
}

// runREPL reads commands from reader and dispatches them until EOF or
// "exit". Command errors are printed and the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("fedi %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		parts := strings.Fields(line)
		if len(parts) > 0 {
			quit, cmdErr := execute(ctx, a, parts)
			if cmdErr != nil {
				printlnFn("error:", cmdErr)
			}
			if quit {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
