package local

import (
	"fmt"
	"os/exec"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/jmylchreest/distill/internal/logger"
)

// Common Chrome/Chromium binary names across different systems
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath searches PATH and common install locations for a Chrome
// binary, then falls back to rod's own lookup. Returns "" when none is found.
func FindChromePath() string {
	for _, name := range chromeBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	if path, ok := launcher.LookPath(); ok {
		logger.Debug("found Chrome binary via rod launcher", "path", path)
		return path
	}
	return ""
}

// resolveBinary returns the Chrome executable to launch: the configured
// path, a binary found on the system, or a downloaded Chromium when
// autoDownload is set.
func resolveBinary(configured string, autoDownload bool) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if path := FindChromePath(); path != "" {
		return path, nil
	}
	if !autoDownload {
		return "", fmt.Errorf("no Chrome binary found (set local.chrome_path or local.auto_download)")
	}

	logger.Info("downloading Chromium")
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return "", fmt.Errorf("downloading browser: %w", err)
	}
	return path, nil
}
