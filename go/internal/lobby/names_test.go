package lobby_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorhq/parlor/go/internal/lobby"
)

func TestDisambiguate(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		taken []string
		want  string
	}{
		{"free", "Bob", nil, "Bob"},
		{"other names taken", "Bob", []string{"Alice", "Carol"}, "Bob"},
		{"one clash", "Bob", []string{"Bob"}, "Bob Jr."},
		{"two clashes", "Bob", []string{"Bob", "Bob Jr."}, "Bob the 3rd"},
		{"three clashes", "Bob", []string{"Bob", "Bob Jr.", "Bob the 3rd"}, "Bob the 4th"},
		{"gap refills", "Bob", []string{"Bob", "Bob the 3rd"}, "Bob Jr."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lobby.Disambiguate(tt.base, tt.taken))
		})
	}
}
