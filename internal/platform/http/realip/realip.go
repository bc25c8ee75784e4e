// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package realip resolves the client address of a request behind trusted proxies.
package realip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies holds the networks whose forwarding headers are honored.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDRs or bare addresses. Entries that parse as
// neither are skipped; Invalid reports them.
func NewTrustedProxies(entries []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, e := range entries {
		if p, ok := parseEntry(e); ok {
			tp.prefixes = append(tp.prefixes, p)
		}
	}
	return tp
}

// Invalid returns the entries NewTrustedProxies would skip.
func Invalid(entries []string) []string {
	var bad []string
	for _, e := range entries {
		if _, ok := parseEntry(e); !ok {
			bad = append(bad, e)
		}
	}
	return bad
}

func parseEntry(e string) (netip.Prefix, bool) {
	e = strings.TrimSpace(e)
	if p, err := netip.ParsePrefix(e); err == nil {
		return p.Masked(), true
	}
	if a, err := netip.ParseAddr(e); err == nil {
		return netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()), true
	}
	return netip.Prefix{}, false
}

// IsTrusted reports whether addr belongs to a trusted network.
func (tp *TrustedProxies) IsTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the client address. Forwarding headers are used only
// when the direct peer is trusted; X-Forwarded-For is walked from the right,
// skipping trusted hops, so a client cannot spoof its address by prepending.
func (tp *TrustedProxies) ClientAddr(r *http.Request) (netip.Addr, bool) {
	direct, ok := remoteAddr(r.RemoteAddr)
	if !ok || !tp.IsTrusted(direct) {
		return direct, ok
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !tp.IsTrusted(a) || i == 0 {
				return a.Unmap(), true
			}
		}
		return direct, true
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if a, err := netip.ParseAddr(xri); err == nil {
			return a.Unmap(), true
		}
	}
	return direct, true
}

// ClientIP returns ClientAddr as a string, or "unknown".
func (tp *TrustedProxies) ClientIP(r *http.Request) string {
	a, ok := tp.ClientAddr(r)
	if !ok {
		return "unknown"
	}
	return a.String()
}

func remoteAddr(addr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
