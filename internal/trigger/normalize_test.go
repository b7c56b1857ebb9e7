package trigger_test

import (
	"testing"

	"github.com/MrWong99/voxtrigger/internal/trigger"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Open Browser", "open browser"},
		{"  say   hello!  ", "say hello"},
		{"Öffne den Browser.", "offne den browser"},
		{"turn-off, screen?", "turn off screen"},
		{"café", "cafe"},
		{"(music)", "music"},
		{"", ""},
		{"...", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := trigger.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
