package message

import (
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	author   *rsa.PrivateKey
	owner    *rsa.PrivateKey
)

func testKeys(t *testing.T) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		author, err = cryptox.GenerateKeyPairBits(1024)
		require.NoError(t, err)
		owner, err = cryptox.GenerateKeyPairBits(1024)
		require.NoError(t, err)
	})
}

func TestSignedText(t *testing.T) {
	c := &Comment{GUID: "g", ParentGUID: "p", Text: "t", DiasporaHandle: "a@x"}
	assert.Equal(t, "g;p;t;a@x", c.SignedText())

	m := &ConversationMessage{GUID: "g", ParentGUID: "p", Text: "t", CreatedAt: "c", DiasporaHandle: "a@x", ConversationGUID: "p"}
	assert.Equal(t, "g;p;t;c;a@x;p", m.SignedText())

	pp := &PollParticipation{GUID: "g", ParentGUID: "p", DiasporaHandle: "a@x", PollAnswerGUID: "ans"}
	assert.Equal(t, "g;p;a@x;ans", pp.SignedText())
}

func TestRelayableSignatures(t *testing.T) {
	testKeys(t)

	for _, r := range []Relayable{
		&Comment{GUID: "c1", ParentGUID: "p1", Text: "hello", DiasporaHandle: "alice@a.example"},
		&ConversationMessage{GUID: "m1", ParentGUID: "c1", Text: "hi", DiasporaHandle: "alice@a.example", ConversationGUID: "c1"},
		&PollParticipation{GUID: "pp1", ParentGUID: "poll1", DiasporaHandle: "alice@a.example", PollAnswerGUID: "a1"},
	} {
		assert.False(t, VerifyAuthor(r, &author.PublicKey), "unsigned must not verify")

		require.NoError(t, SignAuthor(r, author))
		assert.True(t, VerifyAuthor(r, &author.PublicKey))
		assert.False(t, VerifyAuthor(r, &owner.PublicKey))
		assert.False(t, VerifyParent(r, &owner.PublicKey))

		require.NoError(t, SignParent(r, owner))
		assert.True(t, VerifyParent(r, &owner.PublicKey))
		assert.True(t, VerifyAuthor(r, &author.PublicKey), "countersigning keeps the author signature")
	}
}

func TestRelayableSignatures_SurviveEncoding(t *testing.T) {
	testKeys(t)
	c := &Comment{GUID: "c1", ParentGUID: "p1", Text: "x < y & z", DiasporaHandle: "alice@a.example"}
	require.NoError(t, SignAuthor(c, author))

	raw, err := Encode(c)
	require.NoError(t, err)

	p, _, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, VerifyAuthor(p.Comment, &author.PublicKey))

	p.Comment.Text = "edited"
	assert.False(t, VerifyAuthor(p.Comment, &author.PublicKey))
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{"go", "rust", "c_lang"}, Tags("#Go, #rust #go plain #C_lang! #"))
	assert.Empty(t, Tags("no tags here"))
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, "2024-05-06 07:08:09 UTC", FormatTime(at))
	assert.True(t, at.Equal(ParseTime(FormatTime(at))))
	assert.True(t, at.Equal(ParseTime("2024-05-06T07:08:09Z")))
}
