package sources

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/hazyhaar/sonde/catalog"
)

// DefaultGravatarEndpoint is the Gravatar avatar service.
const DefaultGravatarEndpoint = "https://www.gravatar.com/avatar/"

// EmailHandler resolves email targets: Gravatar presence and the mail
// domain's MX configuration. Serves the catalog sources "gravatar" and
// "mx_records".
type EmailHandler struct {
	client   *Client
	resolver *resolver
	gravatar string
}

// NewEmailHandler builds the email handler. Empty endpoints use the
// public defaults.
func NewEmailHandler(client *Client, dohEndpoint, gravatarEndpoint string) *EmailHandler {
	if dohEndpoint == "" {
		dohEndpoint = DefaultDoHEndpoint
	}
	if gravatarEndpoint == "" {
		gravatarEndpoint = DefaultGravatarEndpoint
	}
	return &EmailHandler{
		client:   client,
		resolver: &resolver{client: client, endpoint: dohEndpoint},
		gravatar: gravatarEndpoint,
	}
}

// Handle dispatches on the source id. The query must be a parseable
// address; anything else is rejected before touching the network.
func (h *EmailHandler) Handle(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
	addr, err := mail.ParseAddress(query)
	if err != nil {
		return map[string]any{"found": false, "reason": "not an email address: " + query}, nil
	}
	email := strings.ToLower(addr.Address)

	switch src.ID {
	case "gravatar":
		return h.avatarProbe(ctx, email)
	case "mx_records":
		return h.mxRecords(ctx, email)
	default:
		return map[string]any{"found": false, "note": "unrecognized source id: " + src.ID}, nil
	}
}

// avatarProbe checks whether the address has a Gravatar. d=404 turns
// the default-image fallback into a status distinction: 200 means a
// real avatar exists, 404 means none.
func (h *EmailHandler) avatarProbe(ctx context.Context, email string) (map[string]any, error) {
	hash := fmt.Sprintf("%x", md5.Sum([]byte(email)))
	u := h.gravatar + hash + "?d=404"

	status, _, err := h.client.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gravatar probe: %w", err)
	}
	switch status {
	case http.StatusOK:
		return map[string]any{
			"found":      true,
			"avatar_url": h.gravatar + hash,
			"hash":       hash,
		}, nil
	case http.StatusNotFound:
		return map[string]any{"found": false, "hash": hash}, nil
	default:
		return nil, fmt.Errorf("gravatar probe: http %d", status)
	}
}

// mxRecords checks whether the address's domain can receive mail.
func (h *EmailHandler) mxRecords(ctx context.Context, email string) (map[string]any, error) {
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]

	mx, err := h.resolver.lookup(ctx, domain, "MX")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"found":       len(mx) > 0,
		"domain":      domain,
		"mx_records":  mx,
		"can_receive": len(mx) > 0,
	}, nil
}
