package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courier/internal/domain"
)

const communityColumns = "id, creator, name, visibility, gating_token, created_at, is_member"

const postColumns = `id, community_id, author, content, signature, timestamp,
	like_count, repost_count, liked, reposted, author_name, moderation, pending`

const messageColumns = "id, channel_id, sender, content, timestamp, pending"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommunity(s rowScanner) (domain.Community, error) {
	var (
		com              domain.Community
		id, creator, vis string
		token            sql.NullString
		member           int
	)
	if err := s.Scan(&id, &creator, &com.Name, &vis, &token, &com.CreatedAt, &member); err != nil {
		return domain.Community{}, err
	}
	com.ID = domain.CommunityID(id)
	com.Creator = domain.IdentityID(creator)
	com.Visibility = domain.Visibility(vis)
	com.GatingToken = token.String
	com.IsMember = member != 0
	return com, nil
}

func scanPost(s rowScanner) (domain.CommunityPost, error) {
	var (
		p                          domain.CommunityPost
		id, community, author, mod string
		liked, reposted, pending   int
	)
	if err := s.Scan(&id, &community, &author, &p.Content, &p.Signature, &p.Timestamp,
		&p.LikeCount, &p.RepostCount, &liked, &reposted, &p.AuthorName, &mod, &pending); err != nil {
		return domain.CommunityPost{}, err
	}
	p.ID = domain.PostID(id)
	p.CommunityID = domain.CommunityID(community)
	p.Author = domain.IdentityID(author)
	p.Liked = liked != 0
	p.Reposted = reposted != 0
	p.Moderation = domain.Moderation(mod)
	p.Pending = pending != 0
	return p, nil
}

func scanMessage(s rowScanner) (domain.ChannelMessage, error) {
	var (
		m                domain.ChannelMessage
		id, room, sender string
		pending          int
	)
	if err := s.Scan(&id, &room, &sender, &m.Content, &m.Timestamp, &pending); err != nil {
		return domain.ChannelMessage{}, err
	}
	m.ID = domain.MessageID(id)
	m.ChannelID = domain.RoomID(room)
	m.Sender = domain.IdentityID(sender)
	m.Pending = pending != 0
	return m, nil
}

// GetCommunity returns the cached community or domain.ErrNotFound.
func (c *Cache) GetCommunity(ctx context.Context, id domain.CommunityID) (domain.Community, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+communityColumns+" FROM communities WHERE id = ?", string(id))
	com, err := scanCommunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Community{}, fmt.Errorf("get community %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Community{}, fmt.Errorf("get community %s: %w", id, err)
	}
	return com, nil
}

// GetPost returns the cached post or domain.ErrNotFound.
func (c *Cache) GetPost(ctx context.Context, id domain.PostID) (domain.CommunityPost, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", string(id))
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CommunityPost{}, fmt.Errorf("get post %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CommunityPost{}, fmt.Errorf("get post %s: %w", id, err)
	}
	return p, nil
}

// ListCommunities returns all cached communities, newest first.
func (c *Cache) ListCommunities(ctx context.Context) ([]domain.Community, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+communityColumns+" FROM communities ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()

	out := []domain.Community{}
	for rows.Next() {
		com, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		out = append(out, com)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return out, nil
}

// ListPosts returns the posts of a community, newest first.
func (c *Cache) ListPosts(ctx context.Context, id domain.CommunityID) ([]domain.CommunityPost, error) {
	return c.queryPosts(ctx, "list posts "+id.String(),
		"SELECT "+postColumns+" FROM posts WHERE community_id = ? ORDER BY timestamp DESC, id ASC",
		string(id))
}

// PendingPosts returns the local posts the relay has not confirmed, oldest
// first.
func (c *Cache) PendingPosts(ctx context.Context) ([]domain.CommunityPost, error) {
	return c.queryPosts(ctx, "pending posts",
		"SELECT "+postColumns+" FROM posts WHERE pending = 1 ORDER BY timestamp ASC, id ASC")
}

func (c *Cache) queryPosts(ctx context.Context, op, query string, args ...any) ([]domain.CommunityPost, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.CommunityPost{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// ListMessages returns the messages of a channel, newest first.
func (c *Cache) ListMessages(ctx context.Context, channel domain.RoomID) ([]domain.ChannelMessage, error) {
	return c.queryMessages(ctx, "list messages "+channel.String(),
		"SELECT "+messageColumns+" FROM messages WHERE channel_id = ? ORDER BY timestamp DESC, id ASC",
		string(channel))
}

// PendingMessages returns the local messages the relay has not confirmed,
// oldest first.
func (c *Cache) PendingMessages(ctx context.Context) ([]domain.ChannelMessage, error) {
	return c.queryMessages(ctx, "pending messages",
		"SELECT "+messageColumns+" FROM messages WHERE pending = 1 ORDER BY timestamp ASC, id ASC")
}

func (c *Cache) queryMessages(ctx context.Context, op, query string, args ...any) ([]domain.ChannelMessage, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.ChannelMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Cursor returns the relay sequence number a room has been merged up to, if
// one was recorded.
func (c *Cache) Cursor(ctx context.Context, room domain.RoomID) (int64, bool, error) {
	var ts sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		"SELECT last_seen FROM sync_cursors WHERE room_id = ?", string(room)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cursor %s: %w", room, err)
	}
	return ts.Int64, ts.Valid, nil
}

// SyncRooms returns the rooms a catch-up pass covers: every joined community
// plus every tracked direct channel.
func (c *Cache) SyncRooms(ctx context.Context) ([]domain.RoomID, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM communities WHERE is_member = 1
		UNION
		SELECT room_id FROM sync_cursors WHERE tracked = 1
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("sync rooms: %w", err)
	}
	defer rows.Close()

	out := []domain.RoomID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, domain.RoomID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return out, nil
}
