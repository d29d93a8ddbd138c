package referrers

import (
	"net/url"
	"strings"
)

const (
	Direct   = "Direct"
	Internal = "Internal"
)

// hosts visitors typically arrive from on a link-in-bio directory
var knownSources = map[string]string{
	"google.com":     "Google",
	"google.co.uk":   "Google",
	"google.de":      "Google",
	"google.fr":      "Google",
	"google.es":      "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"ecosia.org":     "Ecosia",

	"instagram.com":   "Instagram",
	"l.instagram.com": "Instagram",
	"facebook.com":    "Facebook",
	"l.facebook.com":  "Facebook",
	"lm.facebook.com": "Facebook",
	"fb.com":          "Facebook",
	"tiktok.com":      "TikTok",
	"x.com":           "X/Twitter",
	"twitter.com":     "X/Twitter",
	"t.co":            "X/Twitter",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"pinterest.com":   "Pinterest",
	"threads.net":     "Threads",
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",
	"snapchat.com":    "Snapchat",
	"reddit.com":      "Reddit",

	"whatsapp.com": "WhatsApp",
	"wa.me":        "WhatsApp",
	"t.me":         "Telegram",
	"telegram.org": "Telegram",

	"maps.google.com": "Google Maps",
	"yelp.com":        "Yelp",
	"tripadvisor.com": "Tripadvisor",

	"mail.google.com":  "Gmail",
	"outlook.live.com": "Outlook",

	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
}

// FriendlyName maps a hostname to a display name. Unknown hosts come back
// without a leading "www." and with the first letter upper-cased.
func FriendlyName(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	if name, ok := knownSources[hostname]; ok {
		return name
	}
	hostname = strings.TrimPrefix(hostname, "www.")
	if name, ok := knownSources[hostname]; ok {
		return name
	}

	// longest matching parent domain wins
	best := ""
	for domain := range knownSources {
		if strings.HasSuffix(hostname, "."+domain) && len(domain) > len(best) {
			best = domain
		}
	}
	if best != "" {
		return knownSources[best]
	}

	if hostname == "" {
		return hostname
	}
	return strings.ToUpper(hostname[:1]) + hostname[1:]
}

// Source classifies a raw referrer URL. Empty or unparsable referrers are
// Direct, referrers from ownHost are Internal.
func Source(referrer, ownHost string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return Direct
	}
	if !strings.Contains(referrer, "://") {
		referrer = "https://" + referrer
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return Direct
	}
	host := strings.ToLower(u.Hostname())
	if ownHost != "" && strings.TrimPrefix(host, "www.") == strings.TrimPrefix(strings.ToLower(ownHost), "www.") {
		return Internal
	}
	return FriendlyName(host)
}
