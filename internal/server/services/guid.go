package services

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GUIDs issues federation GUIDs. Content GUIDs are name-based under a
// namespace derived from the node secret, so the same local row always maps
// to the same GUID.
type GUIDs struct {
	ns uuid.UUID
}

func NewGUIDs(secret string) *GUIDs {
	return &GUIDs{ns: uuid.NewSHA1(uuid.NameSpaceURL, []byte("fedinode:"+secret))}
}

// New returns a fresh random GUID, used for actors and parts.
func (g *GUIDs) New() string {
	return compact(uuid.New())
}

// Post returns the GUID of the local post with the given row ID.
func (g *GUIDs) Post(id int64) string {
	return compact(uuid.NewSHA1(g.ns, []byte("post:"+strconv.FormatInt(id, 10))))
}

func compact(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}
