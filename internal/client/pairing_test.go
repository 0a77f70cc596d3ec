package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/courierd/internal/testutil/testlog"
)

func TestNormalizeIdentifier(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		in   string
		want string
	}{
		{"+241 77 000 000", "24177000000"},
		{"241-77-000-000", "24177000000"},
		{"(241) 77.000.000", "24177000000"},
		{"24177000000", "24177000000"},
	}
	for _, tc := range cases {
		got, err := NormalizeIdentifier(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeIdentifierRejectsNoDigits(t *testing.T) {
	testlog.Start(t)

	for _, in := range []string{"", "   ", "+-()", "abc"} {
		if _, err := NormalizeIdentifier(in); !errors.Is(err, ErrIdentifierRequired) {
			t.Fatalf("%q: expected ErrIdentifierRequired, got %v", in, err)
		}
	}
}

func TestTerminalPromptReadsLine(t *testing.T) {
	testlog.Start(t)

	var out strings.Builder
	p := TerminalPrompt{In: strings.NewReader("  +241 77 000 000  \n"), Out: &out}
	got, err := p.Identifier(context.Background())
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if got != "+241 77 000 000" {
		t.Fatalf("unexpected identifier: %q", got)
	}
	if out.Len() == 0 {
		t.Fatalf("expected a prompt written to out")
	}
}

func TestTerminalPromptEOF(t *testing.T) {
	testlog.Start(t)

	p := TerminalPrompt{In: strings.NewReader("")}
	if _, err := p.Identifier(context.Background()); err == nil {
		t.Fatalf("expected error on empty input")
	}
}
