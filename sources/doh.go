package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DefaultDoHEndpoint is the Cloudflare DNS-over-HTTPS JSON API.
const DefaultDoHEndpoint = "https://cloudflare-dns.com/dns-query"

// dohAnswer is one record in a DoH JSON response.
type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// resolver queries DNS records over HTTPS. Plain DNS would leak the
// target to the local resolver and behave differently across
// environments; DoH keeps lookups inside the same HTTP client policy
// as every other source.
type resolver struct {
	client   *Client
	endpoint string
}

// lookup returns the record data strings for name/recordType ("A",
// "MX", "NS", "TXT", "PTR"). A clean NXDOMAIN yields an empty slice,
// not an error.
func (r *resolver) lookup(ctx context.Context, name, recordType string) ([]string, error) {
	u := fmt.Sprintf("%s?name=%s&type=%s", r.endpoint, url.QueryEscape(name), url.QueryEscape(recordType))

	var resp dohResponse
	header := map[string][]string{"Accept": {"application/dns-json"}}
	status, body, err := r.client.Get(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("doh query %s/%s: %w", name, recordType, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("doh query %s/%s: http %d", name, recordType, status)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("doh query %s/%s: %w", name, recordType, err)
	}

	out := make([]string, 0, len(resp.Answer))
	for _, a := range resp.Answer {
		out = append(out, strings.TrimSuffix(a.Data, "."))
	}
	return out, nil
}

// reverseName builds the in-addr.arpa name for an IPv4 address.
func reverseName(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return parts[3] + "." + parts[2] + "." + parts[1] + "." + parts[0] + ".in-addr.arpa"
}
