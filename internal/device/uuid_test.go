package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit lowercase", input: "2902", expected: "2902"},
		{name: "16-bit with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit with 0X prefix", input: "0X2A37", expected: "2a37"},
		{name: "surrounding whitespace", input: "  180D ", expected: "180d"},

		// Bluetooth SIG base UUIDs collapse to the 16-bit form
		{name: "SIG base with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base without dashes", input: "0000290200001000800000805f9b34fb", expected: "2902"},
		{name: "SIG base uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},

		// Vendor UUIDs keep all 128 bits
		{name: "UART write", input: DefaultWriteUUID, expected: "6e400002b5a3f393e0a9e50e24dcca9e"},
		{name: "UART read uppercase", input: "6E400003-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400003b5a3f393e0a9e50e24dcca9e"},
		{name: "wrong base prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "wrong base suffix", input: "00002902-1234-5678-9abc-def012345678", expected: "00002902123456789abcdef012345678"},

		{name: "32-bit", input: "00002902", expected: "00002902"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	result := NormalizeUUIDs([]string{"0x180d", "00002a37-0000-1000-8000-00805f9b34fb", DefaultReadUUID})
	assert.Equal(t, []string{"180d", "2a37", "6e400003b5a3f393e0a9e50e24dcca9e"}, result)
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "6e400002", ShortenUUID(NormalizeUUID(DefaultWriteUUID)))
	assert.Equal(t, "2902", ShortenUUID("2902"))
}

func TestValidateUUID(t *testing.T) {
	t.Run("accepts every supported length", func(t *testing.T) {
		got, err := ValidateUUID("2902", "0x12345678", DefaultWriteUUID)
		require.NoError(t, err)
		assert.Equal(t, []string{"2902", "12345678", "6e400002b5a3f393e0a9e50e24dcca9e"}, got)
	})

	tests := []struct {
		name  string
		input []string
	}{
		{name: "no UUIDs", input: nil},
		{name: "empty entry", input: []string{"2902", ""}},
		{name: "odd length", input: []string{"29021"}},
		{name: "non-hex", input: []string{"zz02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateUUID(tt.input...)
			assert.Error(t, err)
		})
	}
}

func TestRules(t *testing.T) {
	// GOAL: Verify rule lookups are insensitive to UUID notation
	//
	// TEST SCENARIO: Build rules from mixed notations → lookups succeed with any other notation of the same UUID

	rules := NewRules(
		[]string{"6E400003-B5A3-F393-E0A9-E50E24DCCA9E", "0x2a37"},
		[]string{"6e400002b5a3f393e0a9e50e24dcca9e", "00002a37-0000-1000-8000-00805f9b34fb"},
	)

	assert.True(t, rules.IsRead(DefaultReadUUID), "read UUID MUST match in dashed form")
	assert.False(t, rules.IsWrite(DefaultReadUUID), "read UUID MUST NOT be a write UUID")
	assert.True(t, rules.IsWrite(DefaultWriteUUID), "write UUID MUST match in dashed form")
	assert.False(t, rules.IsRead(DefaultWriteUUID), "write UUID MUST NOT be a read UUID")

	assert.True(t, rules.IsRead("2A37"), "a UUID MAY carry both roles")
	assert.True(t, rules.IsWrite("2a37"), "a UUID MAY carry both roles")
	assert.False(t, rules.IsRead("180d"), "unknown UUID MUST NOT match")
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	assert.True(t, rules.IsRead("6e400003b5a3f393e0a9e50e24dcca9e"))
	assert.True(t, rules.IsWrite("6e400002b5a3f393e0a9e50e24dcca9e"))
	assert.False(t, rules.IsWrite("6e400001b5a3f393e0a9e50e24dcca9e"), "service UUID MUST NOT be an endpoint")
}
