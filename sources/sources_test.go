package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/sonde/catalog"
)

// testClient disables SSRF validation so probes can reach httptest
// servers on loopback.
func testClient() *Client {
	return NewClient(ClientConfig{
		URLValidator: func(string) error { return nil },
	})
}

func src(id, category string) catalog.Source {
	return catalog.Source{ID: id, Category: category, Enabled: true}
}

func TestDomainHandler_Certificates(t *testing.T) {
	// WHAT: crt.sh entries are folded into a sorted, deduplicated
	// subdomain list scoped to the queried domain.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "output=json") {
			t.Errorf("missing output=json in %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"issuer_name":"C=US, O=Let's Encrypt","name_value":"www.example.com\nexample.com"},
			{"issuer_name":"C=US, O=Let's Encrypt","name_value":"*.api.example.com"},
			{"issuer_name":"C=US, O=DigiCert","name_value":"www.example.com"}
		]`))
	}))
	defer ts.Close()

	h := NewDomainHandler(testClient(), DefaultDoHEndpoint, ts.URL+"/")
	payload, err := h.Handle(context.Background(), src("crtsh", "domain"), "example.com")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if found, _ := payload["found"].(bool); !found {
		t.Error("found should be true")
	}
	if n, _ := payload["certificate_count"].(int); n != 3 {
		t.Errorf("certificate_count = %v", payload["certificate_count"])
	}
	subs, _ := payload["subdomains"].([]string)
	want := []string{"api.example.com", "example.com", "www.example.com"}
	if len(subs) != len(want) {
		t.Fatalf("subdomains = %v, want %v", subs, want)
	}
	for i := range want {
		if subs[i] != want[i] {
			t.Errorf("subdomains[%d] = %q, want %q", i, subs[i], want[i])
		}
	}
}

func TestDomainHandler_DNSRecords(t *testing.T) {
	// WHAT: The dns_records source aggregates A/MX/NS/TXT answers and
	// reports found only when at least one record exists.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("type") {
		case "A":
			w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.com","type":1,"TTL":300,"data":"93.184.216.34"}]}`))
		case "MX":
			w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.com","type":15,"TTL":300,"data":"10 mail.example.com."}]}`))
		default:
			w.Write([]byte(`{"Status":0}`))
		}
	}))
	defer ts.Close()

	h := NewDomainHandler(testClient(), ts.URL, "")
	payload, err := h.Handle(context.Background(), src("dns_records", "domain"), "example.com")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if found, _ := payload["found"].(bool); !found {
		t.Error("found should be true")
	}
	records, _ := payload["records"].(map[string]any)
	if mx, _ := records["mx"].([]string); len(mx) != 1 || mx[0] != "10 mail.example.com" {
		t.Errorf("mx = %v (trailing dot should be stripped)", records["mx"])
	}
	if _, ok := records["ns"]; ok {
		t.Error("empty record types should be omitted")
	}
}

func TestIPHandler_Geolocate(t *testing.T) {
	// WHAT: A successful ip-api answer maps into the payload; the fail
	// status becomes found=false without an error.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "192.0.2.1") {
			w.Write([]byte(`{"status":"success","country":"Norway","city":"Oslo","isp":"Example ISP","lat":59.9,"lon":10.7}`))
			return
		}
		w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer ts.Close()

	h := NewIPHandler(testClient(), "", ts.URL+"/")

	payload, err := h.Handle(context.Background(), src("ip_geolocation", "ip"), "192.0.2.1")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); !found {
		t.Error("found should be true")
	}
	if payload["country"] != "Norway" {
		t.Errorf("country = %v", payload["country"])
	}

	payload, err = h.Handle(context.Background(), src("ip_geolocation", "ip"), "10.0.0.1")
	if err != nil {
		t.Fatalf("Handle fail-status: %v", err)
	}
	if found, _ := payload["found"].(bool); found {
		t.Error("fail status should map to found=false")
	}
	if _, ok := payload["error"]; ok {
		t.Error("handled fail status must not set the error field")
	}
	if msg, _ := payload["reason"].(string); !strings.Contains(msg, "reserved range") {
		t.Errorf("reason = %q", msg)
	}
}

func TestIPHandler_RejectsNonIP(t *testing.T) {
	// WHAT: A query that does not parse as an IP never reaches the
	// network and reads as not found with a reason.
	h := NewIPHandler(testClient(), "", "http://ip.invalid/")
	payload, err := h.Handle(context.Background(), src("ip_geolocation", "ip"), "not-an-ip")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); found {
		t.Error("found should be false")
	}
	if msg, _ := payload["reason"].(string); !strings.Contains(msg, "not an IP") {
		t.Errorf("reason = %q", msg)
	}
	if _, ok := payload["error"]; ok {
		t.Error("local rejection must not set the error field")
	}
}

func TestIPHandler_ReverseDNS(t *testing.T) {
	// WHAT: A PTR lookup reverses the address into in-addr.arpa form.
	var gotName string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		w.Write([]byte(`{"Status":0,"Answer":[{"name":"x","type":12,"TTL":300,"data":"host.example.com."}]}`))
	}))
	defer ts.Close()

	h := NewIPHandler(testClient(), ts.URL, "")
	payload, err := h.Handle(context.Background(), src("reverse_dns", "ip"), "192.0.2.1")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotName != "1.2.0.192.in-addr.arpa" {
		t.Errorf("PTR name = %q", gotName)
	}
	if names, _ := payload["hostnames"].([]string); len(names) != 1 || names[0] != "host.example.com" {
		t.Errorf("hostnames = %v", payload["hostnames"])
	}
}

func TestEmailHandler_Gravatar(t *testing.T) {
	// WHAT: A 200 from Gravatar's d=404 probe means an avatar exists;
	// a 404 means none. The address is lowercased before hashing.
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.Contains(r.URL.Path, "23463b99b62a72f26ed677cc556c44e8") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	h := NewEmailHandler(testClient(), "", ts.URL+"/")

	// md5("user@example.com") = b58996c504c5638798eb6b511e6f49af
	payload, err := h.Handle(context.Background(), src("gravatar", "email"), "User@example.com")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(gotPath, "b58996c504c5638798eb6b511e6f49af") {
		t.Errorf("probe path %q should use the lowercased hash", gotPath)
	}
	if found, _ := payload["found"].(bool); found {
		t.Error("404 probe should read as found=false")
	}

	// md5("example@example.com") = 23463b99b62a72f26ed677cc556c44e8
	payload, err = h.Handle(context.Background(), src("gravatar", "email"), "example@example.com")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); !found {
		t.Error("200 probe should read as found=true")
	}
	if u, _ := payload["avatar_url"].(string); !strings.Contains(u, "23463b99") {
		t.Errorf("avatar_url = %q", u)
	}
}

func TestEmailHandler_RejectsMalformedAddress(t *testing.T) {
	// WHAT: A string that does not parse as an address is answered
	// locally as found=false.
	h := NewEmailHandler(testClient(), "", "http://gravatar.invalid/")
	payload, err := h.Handle(context.Background(), src("gravatar", "email"), "not an email")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); found {
		t.Error("found should be false")
	}
	if msg, _ := payload["reason"].(string); !strings.Contains(msg, "not an email address") {
		t.Errorf("reason = %q", msg)
	}
	if _, ok := payload["error"]; ok {
		t.Error("local rejection must not set the error field")
	}
}

func TestEmailHandler_MXRecords(t *testing.T) {
	// WHAT: MX lookup targets the domain part of the address and maps
	// record presence to deliverability.
	var gotName string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.com","type":15,"TTL":300,"data":"10 mail.example.com."}]}`))
	}))
	defer ts.Close()

	h := NewEmailHandler(testClient(), ts.URL, "")
	payload, err := h.Handle(context.Background(), src("mx_records", "email"), "user@example.com")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotName != "example.com" {
		t.Errorf("MX lookup name = %q", gotName)
	}
	if can, _ := payload["can_receive"].(bool); !can {
		t.Error("can_receive should be true with MX records present")
	}
}

func TestUsernameHandler_Probes(t *testing.T) {
	// WHAT: Platforms answering 200 mark the profile as existing, with
	// the page title extracted; 404 platforms read as absent. One found
	// profile makes the whole payload found.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/hit/") {
			w.Write([]byte(`<html><head><title>octocat - Profile</title></head><body></body></html>`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	sites := []ProfileSite{
		{Name: "hub", URLTemplate: ts.URL + "/hit/%s"},
		{Name: "lab", URLTemplate: ts.URL + "/miss/%s"},
	}
	h := NewUsernameHandler(testClient(), sites)

	payload, err := h.Handle(context.Background(), src("profile_probe", "username"), "octocat")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); !found {
		t.Error("found should be true with one existing profile")
	}
	profiles, _ := payload["profiles"].([]map[string]any)
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}
	for _, p := range profiles {
		exists, _ := p["exists"].(bool)
		switch p["site"] {
		case "hub":
			if !exists {
				t.Error("hub profile should exist")
			}
			if p["title"] != "octocat - Profile" {
				t.Errorf("title = %v", p["title"])
			}
		case "lab":
			if exists {
				t.Error("lab profile should not exist")
			}
		}
	}
}

func TestUsernameHandler_RejectsImplausibleQuery(t *testing.T) {
	// WHAT: Queries with separators or spaces are answered locally.
	h := NewUsernameHandler(testClient(), []ProfileSite{})
	payload, err := h.Handle(context.Background(), src("profile_probe", "username"), "not a user")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if found, _ := payload["found"].(bool); found {
		t.Error("found should be false")
	}
	if _, ok := payload["error"]; ok {
		t.Error("local rejection must not set the error field")
	}
}

func TestClient_BlocksPrivateTargets(t *testing.T) {
	// WHAT: The default client refuses loopback URLs before any request
	// is made.
	// WHY: Catalog files are operator-editable; a malicious or sloppy
	// endpoint must not turn the engine into an internal port scanner.
	c := NewClient(ClientConfig{})
	_, _, err := c.Get(context.Background(), "http://127.0.0.1:9999/admin", nil)
	if err == nil || !strings.Contains(err.Error(), "SSRF") {
		t.Errorf("expected SSRF block, got: %v", err)
	}
}

func TestClient_GetJSONRejectsNon2xx(t *testing.T) {
	// WHAT: GetJSON treats a 500 as an error even with a JSON body.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"oops":true}`))
	}))
	defer ts.Close()

	c := testClient()
	var out map[string]any
	if err := c.GetJSON(context.Background(), ts.URL, &out); err == nil {
		t.Error("expected error on http 500")
	}
}

func TestNewRegistry_CoversAllCategories(t *testing.T) {
	// WHAT: The registry has a handler for every catalog category.
	reg := NewRegistry(Config{})
	for _, c := range catalog.Categories {
		if _, ok := reg[c]; !ok {
			t.Errorf("no handler for category %s", c)
		}
	}
}
