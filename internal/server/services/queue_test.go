package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_HaltsOnFirstFailure(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	good := bob.envelopeTo(t, &message.Request{SenderHandle: bob.handle(), RecipientHandle: alice.Identity.Handle}, alice)
	bad := bob.envelopeTo(t, &message.Request{SenderHandle: "mallory@evil.example", RecipientHandle: alice.Identity.Handle}, alice)
	later := bob.envelopeTo(t, statusFrom(bob, "post-3", "third", false), alice)
	for _, body := range [][]byte{good, bad, later} {
		require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, body))
	}

	st, err := n.queue.ProcessNextBatch(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, Blocked: true}, st)

	items, err := n.queue.Items(ctx, alice)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Error)
	assert.Contains(t, *items[0].Error, "mallory")
	assert.Equal(t, bad, items[0].Body)
	assert.Nil(t, items[1].Error)
	assert.Equal(t, later, items[1].Body)

	ok, err := n.m.Follows(nil).Exists(ctx, bob.contact.ID, alice.Contact.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = n.m.Posts(nil).GetByGUID(ctx, "post-3")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// Still blocked on the next pass.
	st, err = n.queue.ProcessNextBatch(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Blocked: true}, st)

	pending, err := n.queue.HasPendingItems(ctx, alice)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestQueue_ClearAndDiscard(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	bad := bob.envelopeTo(t, &message.Request{SenderHandle: "mallory@evil.example", RecipientHandle: alice.Identity.Handle}, alice)
	later := bob.envelopeTo(t, statusFrom(bob, "post-2", "second", false), alice)
	require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, bad))
	require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, later))

	_, err := n.queue.ProcessNextBatch(ctx, alice, 10)
	require.NoError(t, err)
	items, err := n.queue.Items(ctx, alice)
	require.NoError(t, err)
	stuck := items[0]

	// Clearing retries the item, which fails again.
	require.NoError(t, n.queue.ClearError(ctx, alice, stuck.ID))
	st, err := n.queue.ProcessNextBatch(ctx, alice, 10)
	require.NoError(t, err)
	assert.True(t, st.Blocked)

	carol := n.local(t)
	assert.ErrorIs(t, n.queue.Discard(ctx, carol, stuck.ID), common.ErrorUnauthorized)

	require.NoError(t, n.queue.Discard(ctx, alice, stuck.ID))
	st, err = n.queue.ProcessNextBatch(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1}, st)

	_, err = n.m.Posts(nil).GetByGUID(ctx, "post-2")
	assert.NoError(t, err)
	pending, err := n.queue.HasPendingItems(ctx, alice)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestQueue_DeferThenSucceed(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	comment := bob.envelopeTo(t, signedComment(t, bob, "c-1", "post-1", "early bird"), alice)
	post := bob.envelopeTo(t, statusFrom(bob, "post-1", "hello", false), alice)
	require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, comment))
	require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, post))

	st, err := n.queue.Drain(ctx, alice, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, Deferred: 1}, st)

	items, err := n.queue.Items(ctx, alice)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Error)
	assert.Equal(t, comment, items[0].Body)

	st, err = n.queue.Drain(ctx, alice, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1}, st)

	reply, err := n.m.Posts(nil).GetByGUID(ctx, "c-1")
	require.NoError(t, err)
	root, err := n.m.Posts(nil).GetByGUID(ctx, "post-1")
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, root.ID, *reply.ParentID)
}

func TestQueue_BatchLimitAndBudget(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	for _, guid := range []string{"p1", "p2", "p3"} {
		require.NoError(t, n.queue.ReceiveUser(ctx, alice.Identity.GUID, bob.envelopeTo(t, statusFrom(bob, guid, guid, false), alice)))
	}

	st, err := n.queue.ProcessNextBatch(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, More: true}, st)

	// A spent budget still makes progress on one item.
	clock := time.Now()
	n.queue.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	st, err = n.queue.Drain(ctx, alice, time.Second)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, More: true}, st)
}

func TestQueue_ReceiveUserUnknown(t *testing.T) {
	n := newTestNode(t)
	err := n.queue.ReceiveUser(context.Background(), "nobody", []byte("xml=x"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestQueue_ReceivePublic(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	bob := n.remote(t, "bob@remote.example")

	require.NoError(t, n.queue.ReceivePublic(ctx, bob.envelopeTo(t, statusFrom(bob, "pub-1", "hi all", true), nil)))
	_, err := n.m.Posts(nil).GetByGUID(ctx, "pub-1")
	require.NoError(t, err)

	items, err := n.queue.Items(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	// Deferred messages wait on the public queue without an error.
	require.NoError(t, n.queue.ReceivePublic(ctx, bob.envelopeTo(t, signedComment(t, bob, "c-9", "later", "x"), nil)))

	// Failures are kept with their error and reported.
	err = n.queue.ReceivePublic(ctx, bob.envelopeTo(t, statusFrom(bob, "priv", "x", false), nil))
	assert.ErrorIs(t, err, common.ErrValidation)

	items, err = n.queue.Items(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].Error)
	require.NotNil(t, items[1].Error)

	st, err := n.queue.ProcessPublicQueue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Deferred: 1, Blocked: true}, st)
}

func TestQueue_ClearErrorOnlyRetriesThatItem(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	for _, guid := range []string{"priv-1", "priv-2"} {
		err := n.queue.ReceivePublic(ctx, bob.envelopeTo(t, statusFrom(bob, guid, "x", false), nil))
		require.ErrorIs(t, err, common.ErrValidation)
	}
	items, err := n.queue.Items(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, n.queue.ClearError(ctx, alice, items[0].ID))

	items, err = n.queue.Items(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].Error)
	require.NotNil(t, items[1].Error)
}

func TestQueue_PublicReplyRelayedByLocalOwner(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	carol := n.remote(t, "carol@third.example")

	_, err := n.m.Follows(nil).Add(ctx, carol.contact.ID, alice.Contact.ID)
	require.NoError(t, err)
	post, err := n.publisher.Publish(ctx, alice, Draft{Text: "hello", Visibility: models.VisibilityPublic})
	require.NoError(t, err)
	n.transport.reset()

	body := bob.envelopeTo(t, signedComment(t, bob, "c-1", post.GUID, "nice"), nil)
	require.NoError(t, n.queue.ReceivePublic(ctx, body))

	// Nothing is stored or sent until alice's key is available.
	_, err = n.m.Posts(nil).GetByGUID(ctx, "c-1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, n.transport.sent)
	public, err := n.queue.Items(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, public)

	items, err := n.queue.Items(ctx, alice)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, body, items[0].Body)

	st, err := n.queue.Drain(ctx, alice, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1}, st)

	reply, err := n.m.Posts(nil).GetByGUID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, bob.contact.ID, reply.AuthorID)

	sent := n.transport.to("https://third.example/receive/public")
	require.Len(t, sent, 1)
	payload, kind, sender := openDelivery(t, n, sent[0], nil)
	require.Equal(t, message.KindComment, kind)
	assert.Equal(t, alice.Identity.Handle, sender)
	assert.True(t, message.VerifyAuthor(payload.Comment, &bob.key.PublicKey))
	assert.True(t, message.VerifyParent(payload.Comment, &alice.Key.PublicKey))
	assert.Empty(t, n.transport.to("https://remote.example/receive/public"))
}

func TestQueue_ReceivePublicGarbage(t *testing.T) {
	n := newTestNode(t)
	err := n.queue.ReceivePublic(context.Background(), []byte("xml=%3Cnot-an-envelope"))
	assert.Error(t, err)

	items, err := n.queue.Items(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].Error)
}
