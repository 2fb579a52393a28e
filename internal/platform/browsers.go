package platform

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ytget/clipqueue/internal/model"
)

// Browser keys, probed in this order
const (
	BrowserBrave   = "brave"
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
)

// browserArgs maps a browser key to its --cookies-from-browser argument
var browserArgs = []model.CredentialProfile{
	{Label: BrowserBrave, Argument: "brave:Default"},
	{Label: BrowserChrome, Argument: "chrome"},
	{Label: BrowserFirefox, Argument: "firefox"},
	{Label: BrowserSafari, Argument: "safari"},
}

// cookieStores lists cookie store locations relative to the home directory
var cookieStores = map[string]map[string]string{
	OSDarwin: {
		BrowserBrave:   "Library/Application Support/BraveSoftware/Brave-Browser/Default/Cookies",
		BrowserChrome:  "Library/Application Support/Google/Chrome/Default/Cookies",
		BrowserFirefox: "Library/Application Support/Firefox/Profiles",
		BrowserSafari:  "Library/Containers/com.apple.Safari/Data/Library/Cookies/Cookies.binarycookies",
	},
	OSLinux: {
		BrowserBrave:   ".config/BraveSoftware/Brave-Browser/Default/Cookies",
		BrowserChrome:  ".config/google-chrome/Default/Cookies",
		BrowserFirefox: ".mozilla/firefox",
	},
	OSWindows: {
		BrowserBrave:   "AppData/Local/BraveSoftware/Brave-Browser/User Data/Default/Network/Cookies",
		BrowserChrome:  "AppData/Local/Google/Chrome/User Data/Default/Network/Cookies",
		BrowserFirefox: "AppData/Roaming/Mozilla/Firefox/Profiles",
	},
}

// BrowserProbe enumerates browsers whose cookie stores exist on this machine
type BrowserProbe struct {
	home     string
	goos     string
	override []model.CredentialProfile
}

// NewBrowserProbe creates a probe for the current user. A non-empty override
// list replaces detection entirely.
func NewBrowserProbe(override []model.CredentialProfile) *BrowserProbe {
	home, _ := os.UserHomeDir()
	return &BrowserProbe{home: home, goos: runtime.GOOS, override: override}
}

// NewBrowserProbeAt creates a probe rooted at home for the given OS
func NewBrowserProbeAt(home, goos string) *BrowserProbe {
	return &BrowserProbe{home: home, goos: goos}
}

// Profiles returns usable credential profiles in probe order. The result is
// empty when nothing is detected.
func (b *BrowserProbe) Profiles(_ context.Context) []model.CredentialProfile {
	if len(b.override) > 0 {
		out := make([]model.CredentialProfile, len(b.override))
		copy(out, b.override)
		return out
	}

	stores := cookieStores[b.goos]
	var out []model.CredentialProfile
	for _, candidate := range browserArgs {
		rel, ok := stores[candidate.Label]
		if !ok || b.home == "" {
			continue
		}
		path := filepath.Join(b.home, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		// Safari's store may exist but be unreadable without full disk access
		if candidate.Label == BrowserSafari && !readable(path) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// ParseBrowserList parses "label=arg,label=arg". A bare entry uses the same
// value for label and argument.
func ParseBrowserList(s string) []model.CredentialProfile {
	var out []model.CredentialProfile
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		label, arg, ok := strings.Cut(item, "=")
		label = strings.TrimSpace(label)
		if !ok {
			arg = label
		}
		arg = strings.TrimSpace(arg)
		if label == "" || arg == "" {
			continue
		}
		out = append(out, model.CredentialProfile{Label: label, Argument: arg})
	}
	return out
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 1)
	_, err = f.Read(buf)
	return err == nil
}
