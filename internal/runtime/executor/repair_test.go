package executor

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseJSONWithRepair_ValidPassthrough(t *testing.T) {
	input := []byte(`{"a":1}`)
	out, err := parseJSONWithRepair(input)
	if err != nil {
		t.Fatalf("parseJSONWithRepair failed: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("out = %s, want input unchanged", out)
	}
}

func TestParseJSONWithRepair_TrailingComma(t *testing.T) {
	out, err := parseJSONWithRepair([]byte(`{"a":1,"b":[1,2,],}`))
	if err != nil {
		t.Fatalf("parseJSONWithRepair failed: %v", err)
	}
	if !gjson.ValidBytes(out) {
		t.Fatalf("repaired output is not valid JSON: %s", out)
	}
	if gjson.GetBytes(out, "a").Int() != 1 || len(gjson.GetBytes(out, "b").Array()) != 2 {
		t.Errorf("repaired output = %s", out)
	}
}

func TestParseJSONWithRepair_Comments(t *testing.T) {
	out, err := parseJSONWithRepair([]byte("{\n// generated\n\"a\": 1\n}"))
	if err != nil {
		t.Fatalf("parseJSONWithRepair failed: %v", err)
	}
	if gjson.GetBytes(out, "a").Int() != 1 {
		t.Errorf("repaired output = %s", out)
	}
}

func TestParseJSONWithRepair_TruncatedBody(t *testing.T) {
	// A body cut off mid-stream keeps its longest balanced prefix.
	out, err := parseJSONWithRepair([]byte(`{"a":{"b":1}}garbage{"unfinished":`))
	if err != nil {
		t.Fatalf("parseJSONWithRepair failed: %v", err)
	}
	if gjson.GetBytes(out, "a.b").Int() != 1 {
		t.Errorf("repaired output = %s", out)
	}
}

func TestParseJSONWithRepair_Unsalvageable(t *testing.T) {
	_, err := parseJSONWithRepair([]byte(`{"a": "never closed`))
	if err == nil {
		t.Fatal("expected a ParseError")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("error type = %T, want *ParseError", err)
	}
}

func TestTruncateToBalanced_BracketsInStrings(t *testing.T) {
	out := truncateToBalanced([]byte(`{"a":"}{"}{`))
	if string(out) != `{"a":"}{"}` {
		t.Errorf("truncateToBalanced = %q", out)
	}
}
