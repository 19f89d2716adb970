package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--version"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "nestedgraph dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown flag", args: []string{"--no-such-flag"}, wantErr: "failed to load configuration"},
		{name: "missing catalog", args: []string{"--database.driver", "memory"}, wantErr: "configuration validation failed"},
		{name: "unknown driver", args: []string{"--database.driver", "oracle", "--mutation.catalog_file", "c.yaml"}, wantErr: "configuration validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := run([]string{"--help"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("help should not fail: %v", err)
	}
}
