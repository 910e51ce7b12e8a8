package dispatch

import (
	"errors"
	"slices"
	"testing"
)

func categoryNames(p *Payload) []Category {
	out := make([]Category, 0, len(p.Categories))
	for _, c := range p.Categories {
		out = append(out, c.Name)
	}
	return out
}

func TestParsePayloadKeepsDocumentOrder(t *testing.T) {
	raw := []byte(`{
		"server": {
			"successes": ["S1"],
			"errors": ["E1", "E2"],
			"information": ["I1"]
		},
		"responses": ["R1", {"id": 7}, 3]
	}`)
	p, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Category{Successes, Errors, Information}
	if got := categoryNames(p); !slices.Equal(got, want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
	if !slices.Equal(p.Categories[1].Messages, []string{"E1", "E2"}) {
		t.Fatalf("errors = %v", p.Categories[1].Messages)
	}
	if len(p.Responses) != 3 || string(p.Responses[0]) != `"R1"` || string(p.Responses[1]) != `{"id": 7}` {
		t.Fatalf("responses = %q", p.Responses)
	}
}

func TestParsePayloadMissingMembersAreEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"server": null, "responses": null}`} {
		p, err := ParsePayload([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if len(p.Categories) != 0 || len(p.Responses) != 0 {
			t.Fatalf("%s: expected empty payload, got %+v", raw, p)
		}
	}
}

func TestParsePayloadDuplicateCategoryLastWins(t *testing.T) {
	p, err := ParsePayload([]byte(`{"server": {"errors": ["a"], "information": ["i"], "errors": ["b"]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := categoryNames(p); !slices.Equal(got, []Category{Errors, Information}) {
		t.Fatalf("categories = %v", got)
	}
	if !slices.Equal(p.Categories[0].Messages, []string{"b"}) {
		t.Fatalf("errors = %v", p.Categories[0].Messages)
	}
}

func TestParsePayloadRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"server": `,
		"array root":        `[1, 2]`,
		"string root":       `"hello"`,
		"server not object": `{"server": ["x"]}`,
		"category scalar":   `{"server": {"errors": "boom"}}`,
		"non-string entry":  `{"server": {"errors": ["ok", 5]}}`,
		"responses object":  `{"responses": {"a": 1}}`,
	}
	for name, raw := range cases {
		_, err := ParsePayload([]byte(raw))
		var mpe *MalformedPayloadError
		if !errors.As(err, &mpe) {
			t.Fatalf("%s: err = %v, want *MalformedPayloadError", name, err)
		}
	}
}
