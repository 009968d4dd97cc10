package cleaner

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/distill/internal/logger"
)

// ChainCleaner runs cleaners as stages, each on the previous stage's output.
// The clean command puts an in-process extractor in front of the Markdown
// converter with it.
type ChainCleaner struct {
	stages []Cleaner
}

// NewChain creates a chain of stages applied in the order given.
//
//	chain := cleaner.NewChain(
//	    cleaner.NewDomDistiller(pageURL),
//	    cleaner.NewMarkdown(),
//	)
func NewChain(stages ...Cleaner) *ChainCleaner {
	return &ChainCleaner{stages: stages}
}

// Clean runs every stage. The first failure stops the chain and is returned
// with the stage name prefixed, so errors.Is still matches the stage's
// sentinel (ErrNoContent, ErrConversionFailed).
func (c *ChainCleaner) Clean(content string) (string, error) {
	for _, stage := range c.stages {
		out, err := stage.Clean(content)
		if err != nil {
			return "", fmt.Errorf("%s stage: %w", stage.Name(), err)
		}
		logger.Debug("cleaner stage done",
			"stage", stage.Name(),
			"input_size", len(content),
			"output_size", len(out))
		content = out
	}
	return content, nil
}

// Name joins the stage names, e.g. "readability+markdown".
func (c *ChainCleaner) Name() string {
	names := make([]string, len(c.stages))
	for i, stage := range c.stages {
		names[i] = stage.Name()
	}
	return strings.Join(names, "+")
}
