/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{addr: "10.0.0.1", want: "10.0.0.1"},
		{addr: "10.0.0.1:5678", want: "10.0.0.1"},
		{addr: " 10.0.0.1 ", want: "10.0.0.1"},
		{addr: "[2001:db8:0:0:0:0:0:1]:443", want: "2001:db8::1"},
		{addr: "2001:DB8::0001", want: "2001:db8::1"},
		{addr: "::ffff:192.0.2.7", want: "192.0.2.7"},
		{addr: "fe80::1%eth0", want: "fe80::1"},
		{addr: "unix-socket", want: "unix-socket"},
		{addr: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeAddress(tt.addr))
		})
	}
}

func TestClientAddress(t *testing.T) {
	newRequest := func(headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "[2001:db8::5]:40000"
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	tests := []struct {
		name    string
		headers map[string]string
		trust   bool
		want    string
	}{
		{name: "remote addr", want: "2001:db8::5"},
		{
			name:    "untrusted forwarded for is ignored",
			headers: map[string]string{headerForwardedFor: "203.0.113.9, 10.0.0.1"},
			want:    "2001:db8::5",
		},
		{
			name:    "trusted forwarded for, first hop",
			headers: map[string]string{headerForwardedFor: " 203.0.113.9 , 10.0.0.1", headerRealIP: "10.0.0.2"},
			trust:   true,
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted real ip is ignored",
			headers: map[string]string{headerRealIP: "10.0.0.2"},
			want:    "2001:db8::5",
		},
		{
			name:    "trusted real ip",
			headers: map[string]string{headerRealIP: "10.0.0.2"},
			trust:   true,
			want:    "10.0.0.2",
		},
		{
			name:    "trusted empty headers",
			headers: map[string]string{headerForwardedFor: " ", headerRealIP: ""},
			trust:   true,
			want:    "2001:db8::5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClientAddress(newRequest(tt.headers), tt.trust))
		})
	}
}
