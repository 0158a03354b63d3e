package cli

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeExec struct {
	loggedIn bool

	calls []string
	args  []string
}

func (f *fakeExec) record(name string, args ...string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args...)
	return nil
}

func (f *fakeExec) isLoggedIn() bool                        { return f.loggedIn }
func (f *fakeExec) Ping(ctx context.Context) error          { return f.record("ping") }
func (f *fakeExec) Signup(ctx context.Context) error        { return f.record("signup") }
func (f *fakeExec) DeleteAccount(ctx context.Context) error { return f.record("delete-account") }
func (f *fakeExec) Post(ctx context.Context) error          { return f.record("post") }
func (f *fakeExec) Profile(ctx context.Context) error       { return f.record("profile") }

func (f *fakeExec) Login(ctx context.Context) error {
	f.loggedIn = true
	return f.record("login")
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.loggedIn = false
	return f.record("logout")
}
func (f *fakeExec) QueueStatus(ctx context.Context, public bool) error {
	if public {
		return f.record("queue-status", "public")
	}
	return f.record("queue-status")
}
func (f *fakeExec) QueueRun(ctx context.Context, public bool) error {
	if public {
		return f.record("queue-run", "public")
	}
	return f.record("queue-run")
}
func (f *fakeExec) QueueClear(ctx context.Context, id int64) error {
	return f.record("queue-clear")
}
func (f *fakeExec) QueueDiscard(ctx context.Context, id int64) error {
	return f.record("queue-discard")
}
func (f *fakeExec) Follow(ctx context.Context, handle string, unfollow bool) error {
	if unfollow {
		return f.record("unfollow", handle)
	}
	return f.record("follow", handle)
}
func (f *fakeExec) Reply(ctx context.Context, guid string) error   { return f.record("reply", guid) }
func (f *fakeExec) Reshare(ctx context.Context, guid string) error { return f.record("reshare", guid) }

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	origPrint := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, len(a))
		for i, v := range a {
			parts[i] = strings.TrimSpace(strings.ReplaceAll(toString(v), "\n", " "))
		}
		lines = append(lines, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })
	return &lines
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return ""
	}
}

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	out := captureOutput(t)

	input := strings.Join([]string{
		"help",
		"login",
		"help",
		"queue status",
		"queue run public",
		"queue clear 7",
		"follow bob@remote.example",
		"unfollow bob@remote.example",
		"post",
		"reply p1",
		"reshare p2",
		"profile",
		"foobar",
		"logout",
		"exit",
		"ping",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewReader(strings.NewReader(input)))

	want := []string{"login", "queue-status", "queue-run", "queue-clear", "follow", "unfollow", "post", "reply", "reshare", "profile", "logout"}
	if strings.Join(exec.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}
	wantArgs := []string{"public", "bob@remote.example", "bob@remote.example", "p1", "p2"}
	if strings.Join(exec.args, ",") != strings.Join(wantArgs, ",") {
		t.Fatalf("args = %v, want %v", exec.args, wantArgs)
	}

	joined := strings.Join(*out, "\n")
	for _, s := range []string{helpLoggedOut, helpLoggedIn, "unknown command: foobar", "Bye!"} {
		if !strings.Contains(joined, s) {
			t.Fatalf("output misses %q:\n%s", s, joined)
		}
	}
}

func TestRunREPL_StopsOnEOF(t *testing.T) {
	captureOutput(t)

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewReader(strings.NewReader("ping")))

	if len(exec.calls) != 1 || exec.calls[0] != "ping" {
		t.Fatalf("last line without newline should still run: %v", exec.calls)
	}
}

func TestExecute_UsageErrors(t *testing.T) {
	exec := &fakeExec{}
	ctx := context.Background()

	for _, line := range []string{"queue", "queue clear", "queue clear x", "queue purge", "follow", "reply", "reshare"} {
		_, err := execute(ctx, exec, strings.Fields(line))
		if !errors.Is(err, errUsage) {
			t.Fatalf("%q: expected usage error, got %v", line, err)
		}
	}
	if len(exec.calls) != 0 {
		t.Fatalf("no command should run on usage errors: %v", exec.calls)
	}
}
