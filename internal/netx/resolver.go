package netx

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Source says where a resolved client address came from.
type Source string

const (
	SourceRemote    Source = "remote_addr"
	SourceForwarded Source = "x-forwarded-for"
	SourceRealIP    Source = "x-real-ip"
)

// IPResolver finds the client address of a request. Forwarding headers are
// honored only when the direct peer is in Trusted.
type IPResolver struct {
	Trusted *CIDRSet
}

func (r IPResolver) ClientIP(req *http.Request) string {
	ip, _ := r.Resolve(req)
	return ip
}

func (r IPResolver) Resolve(req *http.Request) (string, Source) {
	remote, ok := parseRemote(req.RemoteAddr)
	if ok && r.Trusted.Contains(remote) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return a.Unmap().String(), SourceForwarded
			}
		}
		if a, err := netip.ParseAddr(strings.TrimSpace(req.Header.Get("X-Real-Ip"))); err == nil {
			return a.Unmap().String(), SourceRealIP
		}
	}
	if ok {
		return remote.String(), SourceRemote
	}
	return req.RemoteAddr, SourceRemote
}

func parseRemote(remoteAddr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
