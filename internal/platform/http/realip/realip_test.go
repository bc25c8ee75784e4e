// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package realip

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestNewTrustedProxies(t *testing.T) {
	tp := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", "::1", "bogus"})

	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.5", true},
		{"192.168.1.6", false},
		{"::1", true},
		{"::ffff:10.0.0.1", true},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := tp.IsTrusted(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("IsTrusted(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}

	if bad := Invalid([]string{"10.0.0.0/8", "bogus"}); len(bad) != 1 || bad[0] != "bogus" {
		t.Errorf("unexpected invalid entries %v", bad)
	}
}

func TestClientIP(t *testing.T) {
	tp := NewTrustedProxies([]string{"127.0.0.0/8", "10.0.0.0/8"})

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct untrusted ignores headers", "203.0.113.7:5000", "1.1.1.1", "", "203.0.113.7"},
		{"trusted proxy uses xff", "127.0.0.1:5000", "198.51.100.2", "", "198.51.100.2"},
		{"skips trusted hops from the right", "127.0.0.1:5000", "198.51.100.2, 10.0.0.4", "", "198.51.100.2"},
		{"spoofed left entry ignored", "127.0.0.1:5000", "6.6.6.6, 198.51.100.2", "", "198.51.100.2"},
		{"all hops trusted uses leftmost", "127.0.0.1:5000", "10.0.0.9, 10.0.0.4", "", "10.0.0.9"},
		{"garbage hop falls back", "127.0.0.1:5000", "not-an-ip", "", "127.0.0.1"},
		{"x-real-ip", "127.0.0.1:5000", "", "198.51.100.9", "198.51.100.9"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"unparseable remote", "nonsense", "", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := tp.ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
