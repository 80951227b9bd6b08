package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// HTTP talks to the relay's REST endpoints.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string) *HTTP { return &HTTP{Base: base, HTTP: http.DefaultClient} }

// FetchItems returns the items of room selected by q in the order the relay
// stored them.
func (c *HTTP) FetchItems(ctx context.Context, room domain.RoomID, q domain.ItemQuery) ([]domain.SyncItem, error) {
	v := url.Values{}
	v.Set("since", strconv.FormatInt(q.Since, 10))
	if q.After > 0 {
		v.Set("after", strconv.FormatInt(q.After, 10))
	}
	path := "/channels/" + url.PathEscape(room.String()) + "/items?" + v.Encode()
	items := []domain.SyncItem{}
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// FetchItem returns one item of room by id.
func (c *HTTP) FetchItem(ctx context.Context, room domain.RoomID, itemID string) (domain.SyncItem, error) {
	var out domain.SyncItem
	path := "/channels/" + url.PathEscape(room.String()) + "/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.SyncItem{}, err
	}
	return out, nil
}

// PublishAgreementKey stores id's agreement public key on the relay.
func (c *HTTP) PublishAgreementKey(ctx context.Context, id domain.IdentityID, pub domain.X25519Public, signature []byte) error {
	rec := KeyRecord{Identity: id, Public: pub.Slice(), Signature: signature}
	return c.do(ctx, http.MethodPut, "/keys/"+url.PathEscape(id.String()), rec, nil)
}

// FetchAgreementKey returns the published agreement public key of id. The
// record must name id and carry id's signature over the key; the relay is
// not trusted to vouch for it.
func (c *HTTP) FetchAgreementKey(ctx context.Context, id domain.IdentityID) (domain.X25519Public, error) {
	var rec KeyRecord
	if err := c.do(ctx, http.MethodGet, "/keys/"+url.PathEscape(id.String()), nil, &rec); err != nil {
		return domain.X25519Public{}, err
	}
	var pub domain.X25519Public
	if len(rec.Public) != len(pub) {
		return domain.X25519Public{}, fmt.Errorf("%w: agreement key of %s has %d bytes", domain.ErrInvalidKey, id.Short(), len(rec.Public))
	}
	copy(pub[:], rec.Public)

	if rec.Identity != id {
		return domain.X25519Public{}, fmt.Errorf("%w: key record for %s names %s", domain.ErrSignatureInvalid, id.Short(), rec.Identity.Short())
	}
	if !crypto.VerifyIdentity(id, crypto.AgreementKeyMessage(id, pub), rec.Signature) {
		return domain.X25519Public{}, fmt.Errorf("%w: agreement key of %s", domain.ErrSignatureInvalid, id.Short())
	}
	return pub, nil
}

// CreateCommunity registers a signed community and returns the relay's copy.
func (c *HTTP) CreateCommunity(ctx context.Context, com domain.Community, signature []byte) (domain.Community, error) {
	var out domain.Community
	req := CreateCommunityRequest{Community: com, Signature: signature}
	if err := c.do(ctx, http.MethodPost, "/communities", req, &out); err != nil {
		return domain.Community{}, err
	}
	return out, nil
}

// CreatePost stores a signed post and returns the relay's copy.
func (c *HTTP) CreatePost(ctx context.Context, p domain.CommunityPost) (domain.CommunityPost, error) {
	var out domain.CommunityPost
	if err := c.do(ctx, http.MethodPost, "/posts", p, &out); err != nil {
		return domain.CommunityPost{}, err
	}
	return out, nil
}

// Engage applies a like/repost toggle and returns the authoritative counts.
func (c *HTTP) Engage(
	ctx context.Context,
	post domain.PostID,
	action domain.EngagementAction,
	id domain.IdentityID,
	signature []byte,
) (domain.Engagement, error) {
	var out domain.Engagement
	req := ActionRequest{Action: string(action), Identity: id, Signature: signature}
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(post.String())+"/engagement", req, &out); err != nil {
		return domain.Engagement{}, err
	}
	return out, nil
}

// Moderate asks the relay to hide, flag or delete a post.
func (c *HTTP) Moderate(
	ctx context.Context,
	post domain.PostID,
	action domain.ModerationAction,
	id domain.IdentityID,
	signature []byte,
) error {
	req := ActionRequest{Action: string(action), Identity: id, Signature: signature}
	return c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(post.String())+"/moderation", req, nil)
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: relay %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: relay %s %s: %s", domain.ErrSignatureInvalid, method, path, readReason(resp))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: relay %s %s", domain.ErrNotFound, method, path)
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("relay %s %s: %s: %s", method, path, resp.Status, readReason(resp))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("relay %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func readReason(resp *http.Response) string {
	var e ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err != nil || e.Error == "" {
		return resp.Status
	}
	return e.Error
}

var _ domain.RelayClient = (*HTTP)(nil)
