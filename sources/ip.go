package sources

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/hazyhaar/sonde/catalog"
)

// DefaultIPAPIEndpoint is the ip-api.com geolocation service. The free
// tier is HTTP only.
const DefaultIPAPIEndpoint = "http://ip-api.com/json/"

// IPHandler resolves ip targets: geolocation via ip-api.com and reverse
// DNS via DoH PTR lookups. Serves the catalog sources "ip_geolocation"
// and "reverse_dns".
type IPHandler struct {
	client   *Client
	resolver *resolver
	ipapi    string
}

// NewIPHandler builds the ip handler. Empty endpoints use the public
// defaults.
func NewIPHandler(client *Client, dohEndpoint, ipapiEndpoint string) *IPHandler {
	if dohEndpoint == "" {
		dohEndpoint = DefaultDoHEndpoint
	}
	if ipapiEndpoint == "" {
		ipapiEndpoint = DefaultIPAPIEndpoint
	}
	return &IPHandler{
		client:   client,
		resolver: &resolver{client: client, endpoint: dohEndpoint},
		ipapi:    ipapiEndpoint,
	}
}

// Handle dispatches on the source id. The query must parse as an IP
// address; anything else is rejected before touching the network.
func (h *IPHandler) Handle(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
	if net.ParseIP(query) == nil {
		return map[string]any{"found": false, "reason": "not an IP address: " + query}, nil
	}
	switch src.ID {
	case "ip_geolocation":
		return h.geolocate(ctx, query)
	case "reverse_dns":
		return h.reverseDNS(ctx, query)
	default:
		return map[string]any{"found": false, "note": "unrecognized source id: " + src.ID}, nil
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
}

func (h *IPHandler) geolocate(ctx context.Context, ip string) (map[string]any, error) {
	u := h.ipapi + url.PathEscape(ip)

	var resp ipAPIResponse
	if err := h.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("ip-api lookup: %w", err)
	}
	if resp.Status != "success" {
		// "fail" covers reserved ranges and bogons; that is an answer.
		return map[string]any{"found": false, "reason": "ip-api: " + resp.Message}, nil
	}
	return map[string]any{
		"found":   true,
		"country": resp.Country,
		"region":  resp.RegionName,
		"city":    resp.City,
		"lat":     resp.Lat,
		"lon":     resp.Lon,
		"isp":     resp.ISP,
		"org":     resp.Org,
		"as":      resp.AS,
	}, nil
}

func (h *IPHandler) reverseDNS(ctx context.Context, ip string) (map[string]any, error) {
	names, err := h.resolver.lookup(ctx, reverseName(ip), "PTR")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"found":     len(names) > 0,
		"hostnames": names,
	}, nil
}
