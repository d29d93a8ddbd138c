package emitter

import (
	"net/url"
	"strings"

	"linkhub/internal/events"
)

// Link describes a clicked anchor, button or tagged element.
type Link struct {
	Href    string
	Text    string
	Element string
	// Tag is an explicit data-track kind set on the element.
	Tag string
}

// Classify maps a click to its event kind using the link scheme and host.
// pageHost is the host of the page the click happened on.
func Classify(link Link, pageHost string) events.Kind {
	kind := classifyHref(strings.TrimSpace(link.Href), pageHost)
	if kind == events.KindClick && link.Tag != "" {
		if tagged, err := events.ParseKind(link.Tag); err == nil && tagged.IsClickLike() {
			return tagged
		}
	}
	return kind
}

func classifyHref(href, pageHost string) events.Kind {
	lower := strings.ToLower(href)
	switch {
	case href == "":
		return events.KindClick
	case strings.HasPrefix(lower, "tel:"):
		return events.KindBusinessCall
	case strings.HasPrefix(lower, "mailto:"):
		return events.KindBusinessEmail
	}

	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return events.KindClick
	}
	host := strings.ToLower(u.Hostname())
	if IsWhatsAppHost(host) {
		return events.KindBusinessWhatsApp
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return events.KindClick
	}
	if sameSite(host, pageHost) {
		return events.KindClick
	}
	return events.KindBusinessWebsiteClick
}

func IsWhatsAppHost(host string) bool {
	host = strings.ToLower(host)
	return host == "wa.me" || host == "whatsapp.com" || strings.HasSuffix(host, ".whatsapp.com")
}

func sameSite(a, b string) bool {
	strip := func(h string) string { return strings.TrimPrefix(strings.ToLower(h), "www.") }
	return b != "" && strip(a) == strip(b)
}
