package main

import (
	"bytes"
	"testing"

	"github.com/covstack/covrun/internal/cli"
)

func TestHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if got := cli.Run([]string{"--help"}, &stdout, &stderr); got != 0 {
		t.Errorf("cli.Run(--help) = %d, want 0", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if got := cli.Run([]string{"frobnicate"}, &stdout, &stderr); got != cli.ExitInternal {
		t.Errorf("cli.Run(frobnicate) = %d, want %d", got, cli.ExitInternal)
	}
}
