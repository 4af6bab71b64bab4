package report

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/cover"

	"github.com/covstack/covrun/internal/coverage"
)

const sampleSource = `package sample

func Covered() int {
	return 1
}

func Uncovered() int {
	return 2
}
`

func sampleProfile(name string) *cover.Profile {
	return &cover.Profile{
		FileName: name,
		Mode:     "set",
		Blocks: []cover.ProfileBlock{
			{StartLine: 3, StartCol: 20, EndLine: 5, EndCol: 2, NumStmt: 1, Count: 1},
			{StartLine: 7, StartCol: 22, EndLine: 9, EndCol: 2, NumStmt: 1, Count: 0},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFindSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	src := filepath.Join(dir, "pkg", "sample.go")
	require.NoError(t, os.WriteFile(src, []byte(sampleSource), 0o644))

	t.Run("import-path-qualified name", func(t *testing.T) {
		got, err := FindSource(dir, "example.com/mod/pkg/sample.go")
		require.NoError(t, err)
		assert.Equal(t, src, got)
	})

	t.Run("relative name", func(t *testing.T) {
		got, err := FindSource(dir, "pkg/sample.go")
		require.NoError(t, err)
		assert.Equal(t, src, got)
	})

	t.Run("absolute name", func(t *testing.T) {
		got, err := FindSource(dir, src)
		require.NoError(t, err)
		assert.Equal(t, src, got)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := FindSource(dir, "example.com/mod/other.go")
		require.Error(t, err)
	})
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.go"), []byte(sampleSource), 0o644))

	profile := sampleProfile("example.com/mod/sample.go")
	summary := coverage.Summarize([]*cover.Profile{profile})

	var buf bytes.Buffer
	err := WriteHTML(&buf, dir, summary, []*cover.Profile{profile}, discardLogger())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "example.com/mod/sample.go")
	assert.Contains(t, out, `class="cov0"`)
	// Set-mode profiles normalize to the cov8 band.
	assert.Contains(t, out, `class="cov8"`)
	assert.Contains(t, out, "func Covered()")
	// Total percentage shows up in the topbar.
	assert.Contains(t, out, "total: 50.0%")
}

func TestWriteHTML_SkipsMissingSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.go"), []byte(sampleSource), 0o644))

	present := sampleProfile("example.com/mod/sample.go")
	missing := sampleProfile("example.com/mod/gone.go")
	summary := coverage.Summarize([]*cover.Profile{present, missing})

	var buf bytes.Buffer
	err := WriteHTML(&buf, dir, summary, []*cover.Profile{present, missing}, discardLogger())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "example.com/mod/sample.go")
	assert.NotContains(t, out, "gone.go")
}

func TestAnnotate_EscapesHTML(t *testing.T) {
	src := []byte("package sample\n\nfunc F(a, b int) bool {\n\treturn a < b\n}\n")
	p := &cover.Profile{
		FileName: "sample.go",
		Mode:     "set",
		Blocks: []cover.ProfileBlock{
			{StartLine: 3, StartCol: 23, EndLine: 5, EndCol: 2, NumStmt: 1, Count: 1},
		},
	}

	body := string(annotate(src, p))
	assert.Contains(t, body, "a &lt; b")
	assert.NotContains(t, body, "a < b")
}
