package user_agent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device type labels reported by DeviceType.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Mobile    bool
	Tablet    bool
	Desktop   bool
	Bot       bool
}

// DeviceType collapses the device flags into mobile, tablet, desktop or unknown.
func (ua UserAgent) DeviceType() string {
	switch {
	case ua.Bot:
		return DeviceUnknown
	case ua.Mobile:
		return DeviceMobile
	case ua.Tablet:
		return DeviceTablet
	case ua.Desktop:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

//go:embed database/rules.yml
var rulesFile []byte

type matchEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Category string `yaml:"category"`
	Device   string `yaml:"device"`
}

type ruleSet struct {
	Bots     []matchEntry `yaml:"bots"`
	Browsers []matchEntry `yaml:"browsers"`
	OSs      []matchEntry `yaml:"oss"`
	Devices  []matchEntry `yaml:"devices"`
}

// regexCache keeps compiled patterns keyed by their source.
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}
	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

type detector struct {
	rules ruleSet
	cache *regexCache
}

var (
	parser *detector
	once   sync.Once
)

func getParser() *detector {
	once.Do(func() {
		parser = &detector{cache: &regexCache{compiled: make(map[string]*pcre.Regexp)}}
		if err := yaml.Unmarshal(rulesFile, &parser.rules); err != nil {
			slog.Default().Error("Failed to parse user agent rules", slog.Any("error", err))
		}
	})
	return parser
}

// firstMatch returns the first entry whose regex matches along with its expanded version.
func (d *detector) firstMatch(entries []matchEntry, userAgent string) (*matchEntry, string) {
	for i := range entries {
		entry := &entries[i]
		regex, err := d.cache.get(entry.Regex)
		if err != nil {
			continue
		}
		matches := regex.FindStringSubmatch(userAgent)
		if len(matches) == 0 {
			continue
		}
		version := entry.Version
		for j, match := range matches[1:] {
			version = strings.ReplaceAll(version, fmt.Sprintf("$%d", j+1), match)
		}
		return entry, version
	}
	return nil, ""
}

// ParseUserAgent classifies a raw User-Agent header.
func ParseUserAgent(userAgent string) UserAgent {
	d := getParser()

	if bot, _ := d.firstMatch(d.rules.Bots, userAgent); bot != nil {
		return UserAgent{
			UserAgent: userAgent,
			OS:        "Unknown",
			Browser:   bot.Name,
			Device:    "Bot",
			Bot:       true,
		}
	}

	result := UserAgent{UserAgent: userAgent, OS: "Unknown", Browser: "Unknown"}
	if browser, _ := d.firstMatch(d.rules.Browsers, userAgent); browser != nil {
		result.Browser = browser.Name
	}
	if os, _ := d.firstMatch(d.rules.OSs, userAgent); os != nil {
		result.OS = os.Name
	}

	if strings.TrimSpace(userAgent) == "" {
		result.Device = "Unknown"
		return result
	}

	device := "desktop"
	if entry, _ := d.firstMatch(d.rules.Devices, userAgent); entry != nil {
		device = entry.Device
	}
	result.Device = device
	result.Mobile = device == "smartphone" || device == "feature phone" || device == "phablet"
	result.Tablet = device == "tablet"
	result.Desktop = device == "desktop" || device == "notebook"
	return result
}
