package genx

import (
	"testing"
)

func TestUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"valid", `{"name": "test", "value": 123}`},
		{"trailing comma", `{"name": "test", "value": 123,}`},
		{"unquoted key", `{name: "test", value: 123}`},
		{"single quotes", `{'name': 'test', 'value': 123}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result map[string]any
			if err := unmarshalJSON([]byte(tt.data), &result); err != nil {
				t.Fatalf("unmarshalJSON error: %v", err)
			}
			if result["name"] != "test" {
				t.Errorf("name = %v, want %q", result["name"], "test")
			}
			if result["value"] != float64(123) {
				t.Errorf("value = %v, want 123", result["value"])
			}
		})
	}
}

func TestUnmarshalJSON_TypeMismatch(t *testing.T) {
	var result int
	if err := unmarshalJSON([]byte(`"string value"`), &result); err == nil {
		t.Error("unmarshalJSON should fail on type mismatch")
	}
}

func TestParseArgs(t *testing.T) {
	args := parseArgs(`{"song": "Clair de Lune", "artist": "Debussy"}`)
	if args["song"] != "Clair de Lune" || args["artist"] != "Debussy" {
		t.Errorf("parseArgs() = %v", args)
	}

	// Streamed arguments are sometimes cut short.
	args = parseArgs(`{"query": "weather in Paris"`)
	if args["query"] != "weather in Paris" {
		t.Errorf("parseArgs(truncated) = %v", args)
	}

	if args := parseArgs(""); args == nil || len(args) != 0 {
		t.Errorf("parseArgs(\"\") = %v, want empty map", args)
	}

	args = parseArgs(`[1, 2]`)
	if args["text"] != `[1, 2]` {
		t.Errorf("parseArgs(array) = %v, want raw text", args)
	}
}

func TestHexString(t *testing.T) {
	s1 := hexString()
	s2 := hexString()
	if len(s1) != 16 {
		t.Errorf("hexString() length = %d, want 16", len(s1))
	}
	if s1 == s2 {
		t.Error("hexString() should generate unique strings")
	}
	for _, c := range s1 {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("hexString() contains invalid character: %c", c)
		}
	}
}
