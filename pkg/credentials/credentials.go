// Package credentials resolves login secrets from an external store. The
// store itself is out of scope; this package only reads from it. Resolved
// secrets live in memory for the duration of a login and are never written
// or logged.
package credentials

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Credentials is a username/secret pair.
type Credentials struct {
	Username string
	Secret   string
}

// String redacts the secret so a stray %v never leaks it.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Secret: [redacted]}", c.Username)
}

// GoString redacts the secret for %#v as well.
func (c Credentials) GoString() string {
	return c.String()
}

// Resolver looks credentials up by a store-specific name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Credentials, error)
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// PassResolver reads entries from the `pass` password store. An entry holds
// the secret on its first line and a "user: <name>" line anywhere after it.
type PassResolver struct {
	// Binary is the pass executable; defaults to "pass"
	Binary string

	// Run executes the binary; defaults to os/exec
	Run Runner
}

// NewPassResolver creates a resolver that shells out to pass.
func NewPassResolver() *PassResolver {
	return &PassResolver{Binary: "pass", Run: execRunner}
}

// Resolve implements Resolver.
func (r *PassResolver) Resolve(ctx context.Context, name string) (Credentials, error) {
	binary := r.Binary
	if binary == "" {
		binary = "pass"
	}
	run := r.Run
	if run == nil {
		run = execRunner
	}

	out, err := run(ctx, binary, "show", name)
	if err != nil {
		return Credentials{}, fmt.Errorf("could not read credentials from 'pass %s' (store the secret on line 1 and 'user: <name>' on line 2): %w", name, err)
	}

	creds, err := ParsePassEntry(string(out))
	if err != nil {
		return Credentials{}, fmt.Errorf("pass %s: %w", name, err)
	}
	return creds, nil
}

// ParsePassEntry extracts credentials from the text of a pass entry.
func ParsePassEntry(entry string) (Credentials, error) {
	lines := strings.Split(strings.TrimSpace(entry), "\n")

	creds := Credentials{Secret: strings.TrimRight(lines[0], "\r")}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if key, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "user") {
			creds.Username = strings.TrimSpace(value)
		}
	}

	if creds.Secret == "" || creds.Username == "" {
		return Credentials{}, fmt.Errorf("entry is missing the secret or the user line")
	}
	return creds, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
