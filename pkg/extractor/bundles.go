package extractor

import (
	"fmt"
	"os"

	"github.com/jmylchreest/distill/internal/logger"
)

// Bundles holds the JavaScript sources injected into pages in script mode.
// An empty field leaves that strategy in native mode.
type Bundles struct {
	Readability  string
	DomDistiller string
}

// LoadBundles reads bundle files. Empty paths are skipped.
func LoadBundles(readabilityPath, domDistillerPath string) (Bundles, error) {
	var b Bundles
	var err error
	if b.Readability, err = readBundle(readabilityPath); err != nil {
		return Bundles{}, err
	}
	if b.DomDistiller, err = readBundle(domDistillerPath); err != nil {
		return Bundles{}, err
	}
	return b, nil
}

func readBundle(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script bundle: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("script bundle %s is empty", path)
	}
	logger.Debug("loaded script bundle", "path", path, "size", len(data))
	return string(data), nil
}
