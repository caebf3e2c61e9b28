package main

import (
	"bytes"
	"io"
	"testing"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = io.Discard

	err := app.Run(append([]string{"titlewatch"}, args...))
	return stdout.String(), err
}
