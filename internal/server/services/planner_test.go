package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_PublicDedupedByServer(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	local := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	dave := n.remote(t, "dave@remote.example")
	carol := n.remote(t, "carol@other.example")

	for _, id := range []int64{bob.contact.ID, dave.contact.ID, carol.contact.ID, local.Contact.ID} {
		_, err := n.m.Follows(nil).Add(ctx, id, alice.Contact.ID)
		require.NoError(t, err)
	}

	post, err := n.publisher.Publish(ctx, alice, Draft{Text: "hello #world", Visibility: models.VisibilityPublic})
	require.NoError(t, err)

	require.Len(t, n.transport.sent, 2)
	sent := n.transport.to("https://remote.example/receive/public")
	require.Len(t, sent, 1)
	require.Len(t, n.transport.to("https://other.example/receive/public"), 1)

	payload, kind, sender := openDelivery(t, n, sent[0], nil)
	assert.Equal(t, message.KindPost, kind)
	assert.Equal(t, alice.Identity.Handle, sender)
	assert.Equal(t, post.GUID, payload.StatusMessage.GUID)
	assert.True(t, payload.StatusMessage.Public)
	assert.Equal(t, "hello #world", payload.StatusMessage.RawMessage)
}

func TestPlanner_LimitedGoesToEachRecipient(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	dave := n.remote(t, "dave@remote.example")
	carol := n.remote(t, "carol@other.example")

	// Followers do not see limited posts.
	_, err := n.m.Follows(nil).Add(ctx, carol.contact.ID, alice.Contact.ID)
	require.NoError(t, err)

	post, err := n.publisher.Publish(ctx, alice, Draft{
		Text:       "just you two",
		Visibility: models.VisibilityLimited,
		Recipients: []string{bob.handle(), dave.handle()},
	})
	require.NoError(t, err)
	require.Len(t, n.transport.sent, 2)

	for _, p := range []*peer{bob, dave} {
		sent := n.transport.to(p.contact.ServerURL + "receive/users/" + p.contact.GUID)
		require.Len(t, sent, 1)
		payload, kind, _ := openDelivery(t, n, sent[0], p.key)
		assert.Equal(t, message.KindPost, kind)
		assert.False(t, payload.StatusMessage.Public)
		assert.Equal(t, post.GUID, payload.StatusMessage.GUID)
	}
}

func TestPlanner_PollAndPhoto(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	_, err := n.m.Follows(nil).Add(ctx, bob.contact.ID, alice.Contact.ID)
	require.NoError(t, err)

	post, err := n.publisher.Publish(ctx, alice, Draft{
		Text:       "pick one",
		Visibility: models.VisibilityPublic,
		Poll:       &PollDraft{Question: "tea or coffee?", Answers: []string{"tea", "coffee"}},
		Image:      &ImageDraft{ContentType: "image/png", Data: []byte("png"), Caption: "mugs"},
	})
	require.NoError(t, err)

	sent := n.transport.to("https://remote.example/receive/public")
	require.Len(t, sent, 2)

	payload, kind, _ := openDelivery(t, n, sent[0], nil)
	require.Equal(t, message.KindPost, kind)
	require.NotNil(t, payload.StatusMessage.Poll)
	assert.Equal(t, "tea or coffee?", payload.StatusMessage.Poll.Question)
	assert.Len(t, payload.StatusMessage.Poll.Answers, 2)

	payload, kind, _ = openDelivery(t, n, sent[1], nil)
	require.Equal(t, message.KindPhoto, kind)
	assert.Equal(t, post.GUID, payload.Photo.StatusMessageGUID)
	assert.Equal(t, "mugs", payload.Photo.Text)
	assert.Contains(t, payload.Photo.URL(), testBaseURL+"media/photos/")
}

func TestPlanner_PrivateThread(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	root, err := n.publisher.Publish(ctx, alice, Draft{
		Subject:    "dinner",
		Text:       "friday?",
		Visibility: models.VisibilityPrivate,
		Recipients: []string{bob.handle()},
	})
	require.NoError(t, err)

	sent := n.transport.to(bob.contact.ServerURL + "receive/users/" + bob.contact.GUID)
	require.Len(t, sent, 1)
	payload, kind, _ := openDelivery(t, n, sent[0], bob.key)
	require.Equal(t, message.KindPrivateMessage, kind)

	conv := payload.Conversation
	assert.Equal(t, root.GUID, conv.GUID)
	assert.Equal(t, "dinner", conv.Subject)
	assert.Equal(t, alice.Identity.Handle+";"+bob.handle(), conv.ParticipantHandles)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "friday?", conv.Messages[0].Text)
	assert.True(t, message.VerifyAuthor(&conv.Messages[0], &alice.Key.PublicKey))
	assert.True(t, message.VerifyParent(&conv.Messages[0], &alice.Key.PublicKey))
}

func TestPlanner_ReplyFollowsThreadClass(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	_, err := n.m.Follows(nil).Add(ctx, bob.contact.ID, alice.Contact.ID)
	require.NoError(t, err)

	post, err := n.publisher.Publish(ctx, alice, Draft{Text: "open thread", Visibility: models.VisibilityPublic})
	require.NoError(t, err)
	n.transport.reset()

	reply, err := n.publisher.Reply(ctx, alice, post.GUID, "keep it quiet", models.VisibilityPrivate)
	require.NoError(t, err)

	_, class, err := n.planner.Class(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, class)

	ok, err := n.m.Posts(nil).SetVisibility(ctx, post.ID, models.VisibilityPrivate)
	require.NoError(t, err)
	assert.False(t, ok)

	sent := n.transport.to("https://remote.example/receive/public")
	require.Len(t, sent, 1)
	assert.Empty(t, n.transport.to(bob.contact.ServerURL+"receive/users/"+bob.contact.GUID))

	payload, kind, _ := openDelivery(t, n, sent[0], nil)
	require.Equal(t, message.KindComment, kind)
	assert.Equal(t, post.GUID, payload.Comment.ParentGUID)
	assert.True(t, message.VerifyAuthor(payload.Comment, &alice.Key.PublicKey))
	assert.True(t, message.VerifyParent(payload.Comment, &alice.Key.PublicKey))
}

func TestPlanner_ReplyReachesRemoteThreadOwner(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	// alice follows bob; bob does not follow alice.
	_, err := n.m.Follows(nil).Add(ctx, alice.Contact.ID, bob.contact.ID)
	require.NoError(t, err)
	require.Equal(t, Done, n.deliver(t, bob, statusFrom(bob, "bobpost1", "hi", true), nil).Outcome)

	reply, err := n.publisher.Reply(ctx, alice, "bobpost1", "nice", models.VisibilityPublic)
	require.NoError(t, err)

	require.Len(t, n.transport.sent, 1)
	sent := n.transport.to("https://remote.example/receive/public")
	require.Len(t, sent, 1)

	payload, kind, sender := openDelivery(t, n, sent[0], nil)
	require.Equal(t, message.KindComment, kind)
	assert.Equal(t, alice.Identity.Handle, sender)
	assert.Equal(t, reply.GUID, payload.Comment.GUID)
	assert.Equal(t, "bobpost1", payload.Comment.ParentGUID)
	assert.True(t, message.VerifyAuthor(payload.Comment, &alice.Key.PublicKey))
}

func TestPlanner_LimitedReplyToOwnerSentOnce(t *testing.T) {
	n := newTestNode(t)
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")

	require.Equal(t, Done, n.deliver(t, bob, statusFrom(bob, "bobpost2", "for alice", false), alice).Outcome)

	_, err := n.publisher.Reply(context.Background(), alice, "bobpost2", "thanks", models.VisibilityLimited)
	require.NoError(t, err)

	sent := n.transport.to(bob.contact.ServerURL + "receive/users/" + bob.contact.GUID)
	require.Len(t, sent, 1)
	_, kind, _ := openDelivery(t, n, sent[0], bob.key)
	assert.Equal(t, message.KindComment, kind)
}

func TestPlanner_DeliveryErrorsSurface(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	carol := n.remote(t, "carol@other.example")
	for _, p := range []*peer{bob, carol} {
		_, err := n.m.Follows(nil).Add(ctx, p.contact.ID, alice.Contact.ID)
		require.NoError(t, err)
	}
	n.transport.fails["https://remote.example/receive/public"] = common.ErrRemoteUnreachable

	post, err := n.publisher.Publish(ctx, alice, Draft{Text: "hi", Visibility: models.VisibilityPublic})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRemoteUnreachable))
	require.NotNil(t, post)
	assert.Len(t, n.transport.to("https://other.example/receive/public"), 1)
}

func TestPublisher_Validation(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)

	_, err := n.publisher.Publish(ctx, alice, Draft{Text: "x", Visibility: "weird"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = n.publisher.Publish(ctx, alice, Draft{Text: "x", Visibility: models.VisibilityLimited})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = n.publisher.Publish(ctx, alice, Draft{Text: "x", Visibility: models.VisibilityPublic,
		Image: &ImageDraft{ContentType: "text/plain", Data: []byte("x")}})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = n.publisher.Reply(ctx, alice, "missing", "hi", models.VisibilityUnset)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPublisher_SubscribeUnsubscribe(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	inbox := bob.contact.ServerURL + "receive/users/" + bob.contact.GUID

	require.NoError(t, n.publisher.Subscribe(ctx, alice, bob.handle()))
	ok, err := n.m.Follows(nil).Exists(ctx, alice.Contact.ID, bob.contact.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	sent := n.transport.to(inbox)
	require.Len(t, sent, 1)
	payload, kind, _ := openDelivery(t, n, sent[0], bob.key)
	assert.Equal(t, message.KindSubscribe, kind)
	assert.Equal(t, bob.handle(), payload.Request.RecipientHandle)

	require.NoError(t, n.publisher.Unsubscribe(ctx, alice, bob.handle()))
	ok, err = n.m.Follows(nil).Exists(ctx, alice.Contact.ID, bob.contact.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	sent = n.transport.to(inbox)
	require.Len(t, sent, 2)
	payload, kind, _ = openDelivery(t, n, sent[1], bob.key)
	assert.Equal(t, message.KindUnsubscribe, kind)
	assert.Equal(t, alice.Identity.GUID, payload.Retraction.PostGUID)
}

func TestPublisher_UpdateProfile(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	_, err := n.m.Follows(nil).Add(ctx, bob.contact.ID, alice.Contact.ID)
	require.NoError(t, err)

	require.NoError(t, n.publisher.UpdateProfile(ctx, alice, ProfileDraft{
		DisplayName: "Alice Liddell",
		Bio:         "down the hole",
		Tags:        []string{"rabbits", "#tea"},
		Avatar:      &ImageDraft{ContentType: "image/png", Data: []byte("png")},
	}))

	c, err := n.m.Contacts(nil).GetByID(ctx, alice.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", c.DisplayName)
	assert.Equal(t, "avatars/"+alice.Identity.GUID, c.AvatarKey)

	sent := n.transport.to(bob.contact.ServerURL + "receive/users/" + bob.contact.GUID)
	require.Len(t, sent, 1)
	payload, kind, _ := openDelivery(t, n, sent[0], bob.key)
	require.Equal(t, message.KindProfileUpdate, kind)
	assert.Equal(t, "Alice", payload.Profile.FirstName)
	assert.Equal(t, "Liddell", payload.Profile.LastName)
	assert.Equal(t, "#rabbits #tea", payload.Profile.TagString)
	assert.Equal(t, testBaseURL+"media/avatars/"+alice.Identity.GUID, payload.Profile.ImageURL)
}

func TestPublisher_Reshare(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	carol := n.remote(t, "carol@other.example")
	_, err := n.m.Follows(nil).Add(ctx, carol.contact.ID, alice.Contact.ID)
	require.NoError(t, err)

	require.Equal(t, Done, n.deliver(t, bob, statusFrom(bob, "bob-1", "worth sharing", true), nil).Outcome)

	post, err := n.publisher.Reshare(ctx, alice, "bob-1")
	require.NoError(t, err)

	parts, err := n.m.Posts(nil).Parts(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, models.PartReshareCard, parts[0].Type)
	assert.Equal(t, bob.handle(), parts[0].TextPreview)

	sent := n.transport.to("https://other.example/receive/public")
	require.Len(t, sent, 1)
	payload, kind, _ := openDelivery(t, n, sent[0], nil)
	require.Equal(t, message.KindReshare, kind)
	assert.Equal(t, "bob-1", payload.Reshare.RootGUID)
	assert.Equal(t, bob.handle(), payload.Reshare.RootDiasporaID)
}

func TestPublisher_DeleteAccount(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	alice := n.local(t)
	bob := n.remote(t, "bob@remote.example")
	_, err := n.m.Follows(nil).Add(ctx, bob.contact.ID, alice.Contact.ID)
	require.NoError(t, err)
	_, err = n.m.Follows(nil).Add(ctx, alice.Contact.ID, bob.contact.ID)
	require.NoError(t, err)

	require.NoError(t, n.publisher.DeleteAccount(ctx, alice))

	c, err := n.m.Contacts(nil).GetByID(ctx, alice.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, common.DeletedAccountBio, c.Bio)
	ok, err := n.m.Follows(nil).Exists(ctx, alice.Contact.ID, bob.contact.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	sent := n.transport.to("https://remote.example/receive/public")
	require.Len(t, sent, 1)
	_, kind, _ := openDelivery(t, n, sent[0], nil)
	assert.Equal(t, message.KindAccountDeletion, kind)
}
