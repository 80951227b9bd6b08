package cache

import (
	"context"
	"database/sql"
	"fmt"

	"courier/internal/domain"
)

// UpsertCommunity inserts or updates a community by id.
// Posts belonging to the community are untouched.
func (c *Cache) UpsertCommunity(ctx context.Context, com domain.Community) error {
	if err := com.Validate(); err != nil {
		return fmt.Errorf("upsert community: %w", err)
	}
	var token sql.NullString
	if com.GatingToken != "" {
		token = sql.NullString{String: com.GatingToken, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO communities (id, creator, name, visibility, gating_token, created_at, is_member)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			creator = excluded.creator,
			name = excluded.name,
			visibility = excluded.visibility,
			gating_token = excluded.gating_token,
			created_at = excluded.created_at,
			is_member = excluded.is_member
	`, string(com.ID), string(com.Creator), com.Name, string(com.Visibility), token,
		com.CreatedAt, boolInt(com.IsMember))
	if err != nil {
		return fmt.Errorf("upsert community %s: %w", com.ID, err)
	}
	return nil
}

// UpsertPost inserts or updates a post by id.
// The owning community must already be cached. A post id already held by
// another author or community is refused with domain.ErrConflict.
func (c *Cache) UpsertPost(ctx context.Context, p domain.CommunityPost) error {
	if p.ID == "" {
		return fmt.Errorf("upsert post: empty id")
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO posts (
			id, community_id, author, content, signature, timestamp,
			like_count, repost_count, liked, reposted, author_name, moderation, pending
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			signature = excluded.signature,
			timestamp = excluded.timestamp,
			like_count = excluded.like_count,
			repost_count = excluded.repost_count,
			liked = excluded.liked,
			reposted = excluded.reposted,
			author_name = excluded.author_name,
			moderation = excluded.moderation,
			pending = excluded.pending
		WHERE posts.author = excluded.author AND posts.community_id = excluded.community_id
	`, string(p.ID), string(p.CommunityID), string(p.Author), p.Content, p.Signature, p.Timestamp,
		p.LikeCount, p.RepostCount, boolInt(p.Liked), boolInt(p.Reposted), p.AuthorName, string(p.Moderation),
		boolInt(p.Pending))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("upsert post %s: community %s: %w", p.ID, p.CommunityID, domain.ErrNotFound)
		}
		return fmt.Errorf("upsert post %s: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upsert post %s by %s: %w", p.ID, p.Author.Short(), domain.ErrConflict)
	}
	return nil
}

// UpsertMessage inserts or updates a decrypted channel message by id. A
// message id already held by another sender or channel is refused with
// domain.ErrConflict.
func (c *Cache) UpsertMessage(ctx context.Context, m domain.ChannelMessage) error {
	if m.ID == "" {
		return fmt.Errorf("upsert message: empty id")
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, sender, content, timestamp, pending)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			timestamp = excluded.timestamp,
			pending = excluded.pending
		WHERE messages.sender = excluded.sender AND messages.channel_id = excluded.channel_id
	`, string(m.ID), string(m.ChannelID), string(m.Sender), m.Content, m.Timestamp, boolInt(m.Pending))
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upsert message %s by %s: %w", m.ID, m.Sender.Short(), domain.ErrConflict)
	}
	return nil
}

// UpdateEngagement overwrites the counters and local flags of a post.
func (c *Cache) UpdateEngagement(ctx context.Context, id domain.PostID, e domain.Engagement) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE posts
		SET like_count = ?, repost_count = ?, liked = ?, reposted = ?
		WHERE id = ?
	`, e.LikeCount, e.RepostCount, boolInt(e.Liked), boolInt(e.Reposted), string(id))
	if err != nil {
		return fmt.Errorf("update engagement %s: %w", id, err)
	}
	return expectOne(res, "update engagement", string(id))
}

// SetModeration records the moderation flag of a post.
func (c *Cache) SetModeration(ctx context.Context, id domain.PostID, flag domain.Moderation) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE posts SET moderation = ? WHERE id = ?", string(flag), string(id))
	if err != nil {
		return fmt.Errorf("set moderation %s: %w", id, err)
	}
	return expectOne(res, "set moderation", string(id))
}

// DeletePost removes a post. Deleting an absent post is not an error.
func (c *Cache) DeletePost(ctx context.Context, id domain.PostID) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", string(id)); err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	return nil
}

// SetMembership records whether the local identity has joined a community.
func (c *Cache) SetMembership(ctx context.Context, id domain.CommunityID, member bool) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE communities SET is_member = ? WHERE id = ?", boolInt(member), string(id))
	if err != nil {
		return fmt.Errorf("set membership %s: %w", id, err)
	}
	return expectOne(res, "set membership", string(id))
}

// DeleteCommunity removes a community and, by cascade, all of its posts.
func (c *Cache) DeleteCommunity(ctx context.Context, id domain.CommunityID) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM communities WHERE id = ?", string(id)); err != nil {
		return fmt.Errorf("delete community %s: %w", id, err)
	}
	return nil
}

// AdvanceCursor moves the room's catch-up cursor forward to the relay
// sequence number seq. A cursor never moves backwards.
func (c *Cache) AdvanceCursor(ctx context.Context, room domain.RoomID, seq int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (room_id, last_seen) VALUES (?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			last_seen = MAX(COALESCE(last_seen, excluded.last_seen), excluded.last_seen)
	`, string(room), seq)
	if err != nil {
		return fmt.Errorf("advance cursor %s: %w", room, err)
	}
	return nil
}

// TrackRoom marks a direct channel for catch-up on every sync.
func (c *Cache) TrackRoom(ctx context.Context, room domain.RoomID) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (room_id, tracked) VALUES (?, 1)
		ON CONFLICT(room_id) DO UPDATE SET tracked = 1
	`, string(room))
	if err != nil {
		return fmt.Errorf("track room %s: %w", room, err)
	}
	return nil
}
