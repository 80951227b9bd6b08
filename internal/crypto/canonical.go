package crypto

import (
	"encoding/base64"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"courier/internal/domain"
)

// PostMessage is the string an author signs when publishing a post. It binds
// the post id and community so a signed post cannot be replayed elsewhere.
// Content is NFC-normalized so equivalent text verifies on every platform.
func PostMessage(p domain.CommunityPost) []byte {
	return []byte(p.ID.String() + "\x00" + p.CommunityID.String() + "\x00" +
		norm.NFC.String(p.Content) + strconv.FormatInt(p.Timestamp, 10))
}

// ActionMessage is the string signed for engagement and moderation actions.
func ActionMessage(post domain.PostID, action string) []byte {
	return []byte(post.String() + action)
}

// CommunityMessage is the string signed when creating a community.
func CommunityMessage(c domain.Community) []byte {
	return []byte(norm.NFC.String(c.Name) + string(c.Visibility) + strconv.FormatInt(c.CreatedAt, 10))
}

// AgreementKeyMessage is the string signed when publishing an agreement key.
func AgreementKeyMessage(id domain.IdentityID, pub domain.X25519Public) []byte {
	return []byte(id.String() + base64.StdEncoding.EncodeToString(pub[:]))
}
