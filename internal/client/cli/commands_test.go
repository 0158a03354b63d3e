package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
	"github.com/stretchr/testify/require"
)

// stubPrompts answers text prompts from a script keyed by prompt prefix.
func stubPrompts(t *testing.T, answers map[string]string, lines map[string][]string) {
	t.Helper()
	origST, origML, origGL := getSimpleText, getMultiline, getLines
	lookup := func(prompt string) string {
		for k, v := range answers {
			if strings.HasPrefix(prompt, k) {
				return v
			}
		}
		return ""
	}
	getSimpleText = func(_ *bufio.Reader, prompt string, _ io.Writer) (string, error) { return lookup(prompt), nil }
	getMultiline = func(_ *bufio.Reader, prompt string, _ io.Writer) (string, error) { return lookup(prompt), nil }
	getLines = func(_ *bufio.Reader, prompt string, _ io.Writer) ([]string, error) {
		for k, v := range lines {
			if strings.HasPrefix(prompt, k) {
				return v, nil
			}
		}
		return nil, nil
	}
	t.Cleanup(func() {
		getSimpleText, getMultiline, getLines = origST, origML, origGL
	})
}

func TestQueueStatus_PrintsItems(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	f := &fakeClient{items: []adminrpc.QueueItem{
		{ID: 3, ReceivedAt: at, Size: 120, Error: "bad signature"},
		{ID: 4, ReceivedAt: at, Size: 80},
	}}
	a, out := newTestApp(f, "")

	require.NoError(t, a.QueueStatus(context.Background(), false))
	require.Contains(t, out.String(), "#3  2024-05-06T07:08:09Z  120 bytes  BLOCKED: bad signature")
	require.Contains(t, out.String(), "#4  2024-05-06T07:08:09Z  80 bytes\n")
}

func TestQueueStatus_Empty(t *testing.T) {
	a, out := newTestApp(&fakeClient{}, "")
	require.NoError(t, a.QueueStatus(context.Background(), true))
	require.Equal(t, "Queue is empty\n", out.String())
}

func TestQueueRun_LoopsUntilDone(t *testing.T) {
	f := &fakeClient{runs: []*adminrpc.QueueRunResponse{
		{Processed: 2, More: true},
		{Processed: 3, Deferred: 1, More: true},
		{Processed: 1},
	}}
	a, out := newTestApp(f, "")

	require.NoError(t, a.QueueRun(context.Background(), false))
	require.Equal(t, []time.Duration{3 * time.Second, 10 * time.Second, 10 * time.Second}, f.budgets)
	require.Contains(t, out.String(), "Processed 6, deferred 1\n")
}

func TestQueueRun_StopsWhenBlocked(t *testing.T) {
	f := &fakeClient{runs: []*adminrpc.QueueRunResponse{{Processed: 1, Blocked: true, More: true}}}
	a, out := newTestApp(f, "")

	require.NoError(t, a.QueueRun(context.Background(), true))
	require.Len(t, f.budgets, 1)
	require.Contains(t, out.String(), "queue is blocked")
}

func TestQueueRun_Error(t *testing.T) {
	f := &fakeClient{err: errors.New("down")}
	a, _ := newTestApp(f, "")
	require.Error(t, a.QueueRun(context.Background(), false))
}

func TestQueueClearAndDiscard(t *testing.T) {
	f := &fakeClient{}
	a, _ := newTestApp(f, "")
	require.NoError(t, a.QueueClear(context.Background(), 5))
	require.NoError(t, a.QueueDiscard(context.Background(), 6))
	require.EqualValues(t, 5, f.cleared)
	require.EqualValues(t, 6, f.discarded)
}

func TestPost_Limited(t *testing.T) {
	f := &fakeClient{publishResp: &adminrpc.PublishResponse{GUID: "p1"}}
	a, out := newTestApp(f, "")
	stubPrompts(t,
		map[string]string{"Visibility": "Limited", "Text": "hello friends", "Poll question": "tea?"},
		map[string][]string{"Recipients": {"bob@remote.example"}, "Poll answers": {"yes", "no"}},
	)

	require.NoError(t, a.Post(context.Background()))
	require.Equal(t, &adminrpc.PublishRequest{
		Text:         "hello friends",
		Visibility:   "limited",
		Recipients:   []string{"bob@remote.example"},
		PollQuestion: "tea?",
		PollAnswers:  []string{"yes", "no"},
	}, f.published)
	require.Contains(t, out.String(), "Published p1")
}

func TestPost_WithImageAndDeliveryError(t *testing.T) {
	f := &fakeClient{publishResp: &adminrpc.PublishResponse{GUID: "p2", DeliveryError: "remote unreachable"}}
	a, out := newTestApp(f, "")
	stubPrompts(t, map[string]string{"Visibility": "public", "Text": "look", "Image file": "/tmp/cat.png"}, nil)

	origRead := readFile
	readFile = func(path string) ([]byte, error) {
		require.Equal(t, "/tmp/cat.png", path)
		return []byte("\x89PNG\r\n\x1a\n0000"), nil
	}
	t.Cleanup(func() { readFile = origRead })

	require.NoError(t, a.Post(context.Background()))
	require.NotNil(t, f.published.Image)
	require.Equal(t, "image/png", f.published.Image.ContentType)
	require.Empty(t, f.published.Recipients)
	require.Contains(t, out.String(), "Some deliveries failed: remote unreachable")
}

func TestReplyAndReshare(t *testing.T) {
	f := &fakeClient{publishResp: &adminrpc.PublishResponse{GUID: "c1"}}
	a, _ := newTestApp(f, "")
	stubPrompts(t, map[string]string{"Reply text": "agreed"}, nil)

	require.NoError(t, a.Reply(context.Background(), "p1"))
	require.Equal(t, &adminrpc.ReplyRequest{ParentGUID: "p1", Text: "agreed"}, f.replied)

	require.NoError(t, a.Reshare(context.Background(), "p9"))
	require.Equal(t, "p9", f.reshared)
}

func TestProfile(t *testing.T) {
	f := &fakeClient{}
	a, out := newTestApp(f, "")
	stubPrompts(t,
		map[string]string{"Display name": "Alice", "Bio": "tea lover"},
		map[string][]string{"Tags": {"tea", "go"}},
	)

	require.NoError(t, a.Profile(context.Background()))
	require.Equal(t, &adminrpc.ProfileRequest{DisplayName: "Alice", Bio: "tea lover", Tags: []string{"tea", "go"}}, f.profile)
	require.Contains(t, out.String(), "Profile updated")
}

func TestFollow_Unfollow(t *testing.T) {
	f := &fakeClient{}
	a, out := newTestApp(f, "")
	require.NoError(t, a.Follow(context.Background(), "bob@remote.example", true))
	require.True(t, f.unfollow)
	require.Contains(t, out.String(), "Stopped following bob@remote.example")
}
