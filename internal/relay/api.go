package relay

import "courier/internal/domain"

// KeyRecord is the published agreement key of an identity. The signature is
// made by the identity's signing key over crypto.AgreementKeyMessage.
type KeyRecord struct {
	Identity  domain.IdentityID `json:"identity"`
	Public    []byte            `json:"public"`
	Signature []byte            `json:"signature,omitempty"`
}

// CreateCommunityRequest carries a community signed by its creator over
// crypto.CommunityMessage.
type CreateCommunityRequest struct {
	Community domain.Community `json:"community"`
	Signature []byte           `json:"signature"`
}

// ActionRequest is the body of engagement and moderation calls. The
// signature covers crypto.ActionMessage(post, action).
type ActionRequest struct {
	Action    string            `json:"action"`
	Identity  domain.IdentityID `json:"identity"`
	Signature []byte            `json:"signature"`
}

// ErrorResponse is the JSON body of a non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
