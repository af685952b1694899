package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/citylens/citylens/pkg/domain"
)

func TestParseProgress(t *testing.T) {
	cases := []struct {
		line    string
		percent int
		stage   string
		ok      bool
	}{
		{"progress 40 segmenting", 40, "segmenting", true},
		{"progress 100", 100, "", true},
		{"progress 0 fetching imagery", 0, "fetching imagery", true},
		{"progress abc stage", 0, "", false},
		{"progress 101 too-far", 0, "", false},
		{"progress -1 neg", 0, "", false},
	}
	for _, tc := range cases {
		percent, stage, ok := parseProgress(tc.line)
		if ok != tc.ok || percent != tc.percent || stage != tc.stage {
			t.Fatalf("%q: got (%d, %q, %v), want (%d, %q, %v)", tc.line, percent, stage, ok, tc.percent, tc.stage, tc.ok)
		}
	}
}

func TestCollectOutputsSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "preview.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "scratch"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, err := collectOutputs(dir)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out["preview.png"] != filepath.Join(dir, "preview.png") {
		t.Fatalf("unexpected path: %s", out["preview.png"])
	}
}

func TestRunWithoutCommand(t *testing.T) {
	p := NewExecPipeline("", nil)
	if _, err := p.Run(context.Background(), domain.Request{Address: "x"}, t.TempDir(), nil); err == nil {
		t.Fatal("expected error when no command is configured")
	}
}
