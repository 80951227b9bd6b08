package types

import "fmt"

// Visibility controls who may read a community.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Community is the cached mirror of a relay community.
type Community struct {
	ID          CommunityID `json:"id"`
	Creator     IdentityID  `json:"creator"`
	Name        string      `json:"name"`
	Visibility  Visibility  `json:"visibility"`
	GatingToken string      `json:"gating_token,omitempty"`
	CreatedAt   int64       `json:"created_at"`
	IsMember    bool        `json:"is_member"`
}

// Validate checks that the gating token is present iff the community is private.
func (c Community) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("community: empty id")
	}
	switch c.Visibility {
	case VisibilityPublic:
		if c.GatingToken != "" {
			return fmt.Errorf("community %s: public community carries a gating token", c.ID)
		}
	case VisibilityPrivate:
		if c.GatingToken == "" {
			return fmt.Errorf("community %s: private community without gating token", c.ID)
		}
	default:
		return fmt.Errorf("community %s: unknown visibility %q", c.ID, c.Visibility)
	}
	return nil
}

// Moderation is the moderation state of a post.
type Moderation string

const (
	ModerationNone    Moderation = ""
	ModerationHidden  Moderation = "hidden"
	ModerationFlagged Moderation = "flagged"
)

// ModerationAction is what a moderator asks the relay to do with a post.
type ModerationAction string

const (
	ModerateHide   ModerationAction = "hide"
	ModerateFlag   ModerationAction = "flag"
	ModerateDelete ModerationAction = "delete"
)

// EngagementAction is a like or repost toggle.
type EngagementAction string

const (
	ActionLike     EngagementAction = "like"
	ActionUnlike   EngagementAction = "unlike"
	ActionRepost   EngagementAction = "repost"
	ActionUnrepost EngagementAction = "unrepost"
)

// CommunityPost is a post inside a community. Posts are deleted together
// with their community.
type CommunityPost struct {
	ID          PostID      `json:"id"`
	CommunityID CommunityID `json:"community_id"`
	Author      IdentityID  `json:"author"`
	Content     string      `json:"content"`
	Signature   []byte      `json:"signature"`
	Timestamp   int64       `json:"timestamp"`
	LikeCount   int64       `json:"like_count"`
	RepostCount int64       `json:"repost_count"`
	Liked       bool        `json:"liked"`
	Reposted    bool        `json:"reposted"`
	AuthorName  string      `json:"author_name,omitempty"`
	Moderation  Moderation  `json:"moderation,omitempty"`

	// Pending marks a local post the relay has not confirmed yet.
	Pending bool `json:"-"`
}

// Engagement is the counters and local flags of a post.
type Engagement struct {
	LikeCount   int64 `json:"like_count"`
	RepostCount int64 `json:"repost_count"`
	Liked       bool  `json:"liked"`
	Reposted    bool  `json:"reposted"`
}
