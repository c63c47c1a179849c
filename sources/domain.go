package sources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hazyhaar/sonde/catalog"
)

// DefaultCrtShEndpoint is the crt.sh certificate transparency search.
const DefaultCrtShEndpoint = "https://crt.sh/"

// DomainHandler resolves domain targets against certificate
// transparency logs and public DNS. It serves the catalog sources
// "crtsh" and "dns_records"; an unrecognized source id is reported as
// not found rather than guessed at.
type DomainHandler struct {
	client   *Client
	resolver *resolver
	crtsh    string
}

// NewDomainHandler builds the domain handler. Empty endpoints use the
// public defaults.
func NewDomainHandler(client *Client, dohEndpoint, crtshEndpoint string) *DomainHandler {
	if dohEndpoint == "" {
		dohEndpoint = DefaultDoHEndpoint
	}
	if crtshEndpoint == "" {
		crtshEndpoint = DefaultCrtShEndpoint
	}
	return &DomainHandler{
		client:   client,
		resolver: &resolver{client: client, endpoint: dohEndpoint},
		crtsh:    crtshEndpoint,
	}
}

// Handle dispatches on the source id.
func (h *DomainHandler) Handle(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
	switch src.ID {
	case "crtsh":
		return h.certificates(ctx, query)
	case "dns_records":
		return h.dnsRecords(ctx, query)
	default:
		return map[string]any{"found": false, "note": "unrecognized source id: " + src.ID}, nil
	}
}

type crtShEntry struct {
	IssuerName string `json:"issuer_name"`
	NameValue  string `json:"name_value"`
	NotBefore  string `json:"not_before"`
	NotAfter   string `json:"not_after"`
}

// certificates searches CT logs for certificates covering the domain
// and extracts the distinct subdomains they name.
func (h *DomainHandler) certificates(ctx context.Context, domain string) (map[string]any, error) {
	u := fmt.Sprintf("%s?q=%s&output=json", h.crtsh, url.QueryEscape("%."+domain))

	var entries []crtShEntry
	if err := h.client.GetJSON(ctx, u, &entries); err != nil {
		return nil, fmt.Errorf("crt.sh search: %w", err)
	}

	seen := map[string]bool{}
	issuers := map[string]bool{}
	for _, e := range entries {
		// name_value packs SANs one per line.
		for _, name := range strings.Split(e.NameValue, "\n") {
			name = strings.ToLower(strings.TrimSpace(name))
			name = strings.TrimPrefix(name, "*.")
			if name != "" && strings.HasSuffix(name, domain) {
				seen[name] = true
			}
		}
		if e.IssuerName != "" {
			issuers[e.IssuerName] = true
		}
	}

	subdomains := make([]string, 0, len(seen))
	for s := range seen {
		subdomains = append(subdomains, s)
	}
	sort.Strings(subdomains)

	return map[string]any{
		"found":             len(entries) > 0,
		"certificate_count": len(entries),
		"subdomains":        subdomains,
		"issuer_count":      len(issuers),
	}, nil
}

// dnsRecords collects A, MX, NS and TXT records for the domain.
func (h *DomainHandler) dnsRecords(ctx context.Context, domain string) (map[string]any, error) {
	records := map[string]any{}
	total := 0
	for _, rt := range []string{"A", "MX", "NS", "TXT"} {
		data, err := h.resolver.lookup(ctx, domain, rt)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			records[strings.ToLower(rt)] = data
			total += len(data)
		}
	}
	return map[string]any{
		"found":        total > 0,
		"records":      records,
		"record_count": total,
	}, nil
}
