package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"separators and blanks only", " , ,, ", nil},
		{"single value", "localhost:9092", []string{"localhost:9092"}},
		{"trims, drops blanks and repeats", " a, b,,a ", []string{"a", "b"}},
		{"keeps first-seen order", "https://kiosk.local,http://localhost:5173, https://kiosk.local", []string{"https://kiosk.local", "http://localhost:5173"}},
		{"case sensitive", "Broker-1,broker-1", []string{"Broker-1", "broker-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitCSV(tt.input))
		})
	}
}
