// Package device derives human-readable device descriptions for the session
// management UI ("which devices am I logged in on?").
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Describe extracts a display name like "Chrome on macOS" or "Safari on
// iPhone" from a User-Agent string.
func Describe(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)

	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		platform := ua.Platform()
		if platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + os)
}
