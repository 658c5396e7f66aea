package netx

import (
	"net/http"
	"testing"
)

func TestIPResolverTrustedProxyUsesXFF(t *testing.T) {
	set, err := ParseCIDRSet([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	r := IPResolver{Trusted: set}

	req, _ := http.NewRequest("GET", "http://example.com/", nil)
	req.RemoteAddr = "10.1.2.3:1234" // trusted proxy
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")

	ip, src := r.Resolve(req)
	if ip != "203.0.113.9" || src != SourceForwarded {
		t.Fatalf("expected client ip from xff, got %q (%s)", ip, src)
	}
}

func TestIPResolverTrustedProxyFallsBackToRealIP(t *testing.T) {
	set, _ := ParseCIDRSet([]string{"10.0.0.0/8"})
	r := IPResolver{Trusted: set}

	req, _ := http.NewRequest("GET", "http://example.com/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Real-Ip", "198.51.100.7")

	ip, src := r.Resolve(req)
	if ip != "198.51.100.7" || src != SourceRealIP {
		t.Fatalf("expected x-real-ip, got %q (%s)", ip, src)
	}
}

func TestIPResolverUntrustedIgnoresXFF(t *testing.T) {
	set, err := ParseCIDRSet([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	r := IPResolver{Trusted: set}

	req, _ := http.NewRequest("GET", "http://example.com/", nil)
	req.RemoteAddr = "192.168.1.5:1234" // not trusted
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := r.ClientIP(req); got != "192.168.1.5" {
		t.Fatalf("expected remote ip, got %q", got)
	}
}

func TestIPResolverZeroValue(t *testing.T) {
	var r IPResolver
	req, _ := http.NewRequest("GET", "http://example.com/", nil)
	req.RemoteAddr = "[::ffff:203.0.113.1]:80"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := r.ClientIP(req); got != "203.0.113.1" {
		t.Fatalf("expected unmapped remote ip, got %q", got)
	}

	req.RemoteAddr = "pipe"
	if got := r.ClientIP(req); got != "pipe" {
		t.Fatalf("expected raw remote addr, got %q", got)
	}
}
