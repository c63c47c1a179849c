package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/sonde/catalog"
)

// ProfileSite is one platform probed for a username.
type ProfileSite struct {
	Name string
	// URLTemplate contains one %s for the username.
	URLTemplate string
}

// defaultProfileSites are platforms whose profile pages answer 404 for
// unknown users, which makes a plain status probe reliable.
var defaultProfileSites = []ProfileSite{
	{Name: "github", URLTemplate: "https://github.com/%s"},
	{Name: "gitlab", URLTemplate: "https://gitlab.com/%s"},
	{Name: "reddit", URLTemplate: "https://www.reddit.com/user/%s/about.json"},
	{Name: "hackernews", URLTemplate: "https://news.ycombinator.com/user?id=%s"},
}

// UsernameHandler probes social platforms for profile pages matching a
// username. Serves the catalog source "profile_probe".
type UsernameHandler struct {
	client *Client
	sites  []ProfileSite
}

// NewUsernameHandler builds the username handler. A nil sites slice
// uses the default platform list; tests inject their own.
func NewUsernameHandler(client *Client, sites []ProfileSite) *UsernameHandler {
	if sites == nil {
		sites = defaultProfileSites
	}
	return &UsernameHandler{client: client, sites: sites}
}

// Handle probes every configured platform. A probe error on one
// platform is recorded and does not abort the others — the handler
// only fails when no platform answered at all.
func (h *UsernameHandler) Handle(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
	if src.ID != "profile_probe" {
		return map[string]any{"found": false, "note": "unrecognized source id: " + src.ID}, nil
	}
	if strings.ContainsAny(query, "/?#@ ") {
		return map[string]any{"found": false, "reason": "not a plausible username: " + query}, nil
	}

	profiles := make([]map[string]any, 0, len(h.sites))
	answered := 0
	for _, site := range h.sites {
		u := fmt.Sprintf(site.URLTemplate, url.PathEscape(query))
		status, body, err := h.client.Get(ctx, u, nil)
		if err != nil {
			profiles = append(profiles, map[string]any{
				"site": site.Name, "exists": false, "error": err.Error(),
			})
			continue
		}
		answered++

		p := map[string]any{
			"site":   site.Name,
			"url":    u,
			"exists": status == http.StatusOK,
		}
		if status == http.StatusOK {
			if title := pageTitle(body); title != "" {
				p["title"] = title
			}
		}
		profiles = append(profiles, p)
	}

	if answered == 0 {
		return nil, fmt.Errorf("no platform reachable for %s", query)
	}

	found := false
	for _, p := range profiles {
		if exists, _ := p["exists"].(bool); exists {
			found = true
			break
		}
	}
	return map[string]any{
		"found":    found,
		"username": query,
		"profiles": profiles,
	}, nil
}

// pageTitle extracts the <title> text from an HTML document, if any.
func pageTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
