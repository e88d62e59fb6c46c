package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.0.2.10:51234",
			want:       "192.0.2.10",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:51234",
			want:       "2001:db8::1",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 70.41.3.18, 150.172.238.178"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			want:       "198.51.100.2",
		},
		{
			name:       "x-forwarded-for wins over x-real-ip",
			remoteAddr: "10.0.0.1:1000",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.5",
				"X-Real-IP":       "198.51.100.2",
			},
			want: "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:51234"
	assert.Equal(t, "192.0.2.10", IPKeyFunc(r))
}

func TestSubjectKeyFunc(t *testing.T) {
	var subject string
	key := SubjectKeyFunc(func(r *http.Request) string { return subject })

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:51234"

	subject = ""
	assert.Equal(t, "192.0.2.10", key(r), "anonymous traffic falls back to per-IP")

	subject = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	assert.Equal(t, "192.0.2.10:9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", key(r))
}
