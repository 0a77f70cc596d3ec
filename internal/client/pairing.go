package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrIdentifierRequired = errors.New("client: pairing identifier required")

// NormalizeIdentifier reduces a phone-style identifier to bare digits,
// dropping the international-prefix marker and any formatting.
func NormalizeIdentifier(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "", fmt.Errorf("%w: %q", ErrIdentifierRequired, raw)
	}
	return out, nil
}

// PairingPrompt obtains a phone-style identifier from the operator.
type PairingPrompt interface {
	Identifier(ctx context.Context) (string, error)
}

// TerminalPrompt reads the identifier from an input stream, stdin in
// production.
type TerminalPrompt struct {
	In  io.Reader
	Out io.Writer
}

func (p TerminalPrompt) Identifier(_ context.Context) (string, error) {
	if p.Out != nil {
		fmt.Fprint(p.Out, "Enter the phone number linked to your account: ")
	}
	scanner := bufio.NewScanner(p.In)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// PromptFunc adapts a function into a PairingPrompt.
type PromptFunc func(ctx context.Context) (string, error)

func (f PromptFunc) Identifier(ctx context.Context) (string, error) {
	return f(ctx)
}
