package netguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL_Schemes(t *testing.T) {
	// WHAT: Non-HTTP(S) schemes are rejected.
	// WHY: file://, gopher:// etc. are classic SSRF vectors.
	for _, raw := range []string{
		"file:///etc/passwd",
		"gopher://example.com",
		"ftp://example.com/data",
	} {
		if err := ValidateURL(raw); !errors.Is(err, ErrUnsafeScheme) {
			t.Errorf("ValidateURL(%q): got %v, want ErrUnsafeScheme", raw, err)
		}
	}
}

func TestValidateURL_PrivateLiterals(t *testing.T) {
	// WHAT: Literal private/loopback IPs are rejected.
	// WHY: Handlers must never reach the internal network.
	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://10.1.2.3/",
		"http://172.16.0.9/x",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
	} {
		if err := ValidateURL(raw); !errors.Is(err, ErrSSRF) {
			t.Errorf("ValidateURL(%q): got %v, want ErrSSRF", raw, err)
		}
	}
}

func TestValidateURL_PublicOK(t *testing.T) {
	// WHAT: A public literal IP passes.
	// WHY: Only private ranges are blocked, not the open internet.
	if err := ValidateURL("https://1.1.1.1/dns-query"); err != nil {
		t.Fatalf("public IP should pass: %v", err)
	}
}

func TestValidateURL_NoHost(t *testing.T) {
	if err := ValidateURL("https:///nohost"); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	// WHAT: Reads beyond the cap fail; reads within it succeed.
	// WHY: Handlers read attacker-sized bodies.
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("within limit: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q", string(data))
	}

	if _, err := LimitedReadAll(strings.NewReader(strings.Repeat("x", 11)), 10); err == nil {
		t.Fatal("expected error over limit")
	}
}
