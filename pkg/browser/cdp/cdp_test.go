package cdp

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.ConnectTimeout != 15*time.Second {
		t.Errorf("ConnectTimeout = %v", o.ConnectTimeout)
	}
	if o.NavigationTimeout != 30*time.Second {
		t.Errorf("NavigationTimeout = %v", o.NavigationTimeout)
	}

	o = Options{NavigationTimeout: time.Second}.withDefaults()
	if o.NavigationTimeout != time.Second {
		t.Errorf("explicit NavigationTimeout overridden: %v", o.NavigationTimeout)
	}
}

func TestConsoleText(t *testing.T) {
	tests := []struct {
		name string
		args []*runtime.RemoteObject
		want string
	}{
		{
			name: "strings are unquoted",
			args: []*runtime.RemoteObject{
				{Type: runtime.TypeString, Value: []byte(`"hello"`)},
				{Type: runtime.TypeString, Value: []byte(`"world"`)},
			},
			want: "hello world",
		},
		{
			name: "numbers are kept raw",
			args: []*runtime.RemoteObject{{Type: runtime.TypeNumber, Value: []byte(`42`)}},
			want: "42",
		},
		{
			name: "objects use description",
			args: []*runtime.RemoteObject{{Type: runtime.TypeObject, Description: "HTMLDivElement"}},
			want: "HTMLDivElement",
		},
		{
			name: "fallback to type",
			args: []*runtime.RemoteObject{{Type: runtime.TypeUndefined}},
			want: "undefined",
		},
		{
			name: "empty",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consoleText(tt.args); got != tt.want {
				t.Errorf("consoleText() = %q, want %q", got, tt.want)
			}
		})
	}
}
