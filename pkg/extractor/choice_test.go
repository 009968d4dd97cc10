package extractor

import (
	"encoding/json"
	"testing"
)

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Choice
		wantErr bool
	}{
		{"", Readability, false},
		{"readability", Readability, false},
		{" Readability ", Readability, false},
		{"domdistiller", DomDistiller, false},
		{"dom-distiller", DomDistiller, false},
		{"DOMDISTILLER", DomDistiller, false},
		{"trafilatura", Readability, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChoice(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChoice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseChoice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChoiceFromReadability(t *testing.T) {
	if ChoiceFromReadability(true) != Readability {
		t.Error("true should select Readability")
	}
	if ChoiceFromReadability(false) != DomDistiller {
		t.Error("false should select DomDistiller")
	}
}

func TestChoiceZeroValue(t *testing.T) {
	var c Choice
	if c != Readability {
		t.Errorf("zero Choice = %v, want readability", c)
	}
}

func TestChoiceJSON(t *testing.T) {
	data, err := json.Marshal(struct{ C Choice }{DomDistiller})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"C":"domdistiller"}` {
		t.Errorf("Marshal = %s", data)
	}

	var v struct{ C Choice }
	if err := json.Unmarshal([]byte(`{"C":"dom-distiller"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.C != DomDistiller {
		t.Errorf("Unmarshal = %v", v.C)
	}

	if err := json.Unmarshal([]byte(`{"C":"nope"}`), &v); err == nil {
		t.Error("expected error for unknown choice")
	}
}

func TestChoiceString(t *testing.T) {
	if got := Choice(7).String(); got != "Choice(7)" {
		t.Errorf("String() = %q", got)
	}
}
