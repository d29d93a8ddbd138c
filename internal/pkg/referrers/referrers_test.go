package referrers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFriendlyName(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		{"instagram.com", "Instagram"},
		{"l.instagram.com", "Instagram"},
		{"www.google.com", "Google"},
		{"m.facebook.com", "Facebook"},
		{"maps.google.com", "Google Maps"},
		{"WA.ME", "WhatsApp"},
		{"example.com", "Example.com"},
		{"www.myblog.io", "Myblog.io"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			assert.Equal(t, tt.expected, FriendlyName(tt.hostname))
		})
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		name     string
		referrer string
		own      string
		expected string
	}{
		{"empty", "", "linkhub.test", Direct},
		{"whitespace", "   ", "linkhub.test", Direct},
		{"social", "https://l.instagram.com/?u=abc", "linkhub.test", "Instagram"},
		{"same host", "https://www.linkhub.test/", "linkhub.test", Internal},
		{"no scheme", "tiktok.com/@acme", "linkhub.test", "TikTok"},
		{"no own host", "https://linkhub.test/", "", "Linkhub.test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Source(tt.referrer, tt.own))
		})
	}
}
