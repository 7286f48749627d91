// internal/browser/allocator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/worklog-cli/internal/config"
)

// flag is one Chrome command line switch. Keeping the list as data lets tests
// inspect it; chromedp options are opaque closures.
type flag struct {
	name  string
	value interface{}
}

// resourceFlags keep a single short-lived browser small and quiet.
var resourceFlags = []flag{
	{"no-sandbox", true},
	{"disable-dev-shm-usage", true},
	{"disable-blink-features", "AutomationControlled"},
	{"disable-gpu", true},
	{"disable-extensions", true},
	{"disable-background-networking", true},
	{"disable-default-apps", true},
	{"disable-sync", true},
	{"metrics-recording-only", true},
	{"mute-audio", true},
	{"no-first-run", true},
	{"safebrowsing-disable-auto-update", true},
	{"disable-client-side-phishing-detection", true},
	{"disable-component-extensions-with-background-pages", true},
}

// allocatorFlags builds the ordered flag list for cfg. User supplied args come
// last so they override anything set here.
func allocatorFlags(cfg config.BrowserConfig) []flag {
	flags := make([]flag, 0, len(resourceFlags)+8+len(cfg.Args))

	if cfg.Headless {
		flags = append(flags, flag{"headless", "new"})
	} else {
		flags = append(flags, flag{"headless", false})
	}
	flags = append(flags, resourceFlags...)

	width, height := 1920, 1080
	if w, ok := cfg.Viewport["width"]; ok && w > 0 {
		width = w
	}
	if h, ok := cfg.Viewport["height"]; ok && h > 0 {
		height = h
	}
	flags = append(flags, flag{"window-size", fmt.Sprintf("%d,%d", width, height)})

	if cfg.DisableCache {
		flags = append(flags,
			flag{"disk-cache-size", "0"},
			flag{"media-cache-size", "0"},
			flag{"disable-application-cache", true},
		)
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags, flag{"ignore-certificate-errors", true})
	}
	if cfg.UserAgent != "" {
		flags = append(flags, flag{"user-agent", cfg.UserAgent})
	}

	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, flag{key, value})
		} else {
			flags = append(flags, flag{key, true})
		}
	}
	return flags
}

// DefaultAllocatorOptions returns the exec allocator options for one run. The
// profile directory is always a fresh, run-owned path so no cookie or cache
// state can leak between users.
func DefaultAllocatorOptions(cfg config.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
