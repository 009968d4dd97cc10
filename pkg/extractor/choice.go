package extractor

import (
	"fmt"
	"strings"
)

// Choice selects an extraction strategy. The zero value is Readability.
type Choice int

const (
	Readability Choice = iota
	DomDistiller
)

// ParseChoice parses "readability" or "domdistiller" (also "dom-distiller"),
// case-insensitively. The empty string is Readability.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "readability":
		return Readability, nil
	case "domdistiller", "dom-distiller":
		return DomDistiller, nil
	default:
		return Readability, fmt.Errorf("unknown extractor %q (want readability or domdistiller)", s)
	}
}

// ChoiceFromReadability maps the useReadability request flag to a Choice.
func ChoiceFromReadability(useReadability bool) Choice {
	if useReadability {
		return Readability
	}
	return DomDistiller
}

func (c Choice) String() string {
	switch c {
	case Readability:
		return "readability"
	case DomDistiller:
		return "domdistiller"
	default:
		return fmt.Sprintf("Choice(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Choice) UnmarshalText(b []byte) error {
	v, err := ParseChoice(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
