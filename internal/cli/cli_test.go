package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRunPrintsConsole(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"index.tsx": "import { greet } from './greet';\nconsole.log(greet('world'));",
		"greet.ts":  "export const greet = (name: string): string => `hello ${name}`;",
	})

	out, errOut, err := execute(t, "run", dir)
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "hello world")
	assert.Contains(t, errOut, "ran in")
}

func TestRunJSONFormat(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"index.js": "console.warn('careful', 1); module.exports = 7;"})

	out, _, err := execute(t, "run", "--format", "json", dir)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var last map[string]interface{}
	require.NoError(t, sonic.UnmarshalString(lines[2], &last))
	assert.Equal(t, "complete", last["type"])
	assert.Equal(t, float64(7), last["exports"])
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr error
		stderr  string
	}{
		{
			name:    "runtime error",
			files:   map[string]string{"index.js": "throw new Error('kaboom');"},
			wantErr: ErrRunFailed,
			stderr:  "kaboom",
		},
		{
			name:    "compiler error",
			files:   map[string]string{"index.js": "require('./broken');", "broken.ts": "const = ;"},
			wantErr: ErrCompileFailed,
			stderr:  "broken.ts",
		},
		{
			name:    "missing module",
			files:   map[string]string{"index.js": "require('left-pad');"},
			wantErr: ErrRunFailed,
			stderr:  "left-pad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeWorkspace(t, tt.files)
			_, errOut, err := execute(t, "run", dir)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, errOut, tt.stderr)
		})
	}
}

func TestRunWithManifest(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"playground.toml": "entry = \"app.js\"\nprelude = \"prelude.js\"\n\n[vendor]\nshout = \"vendor/shout.js\"\n",
		"app.js":          "console.log(globalThis.preludeSaw, require('shout')('hi'));",
		"prelude.js":      "globalThis.preludeSaw = __VendorComponents.has('shout');",
		"vendor/shout.js": "module.exports = function (s) { return s.toUpperCase(); };",
	})

	out, errOut, err := execute(t, "run", dir)
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "true HI")
}

func TestRunMissingEntry(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"lib.js": ""})
	_, _, err := execute(t, "run", dir)
	assert.Error(t, err)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "run", "--format", "xml", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestWatchAppliesEdits(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"index.js": "console.log('v1');"})

	cmd := NewRootCommand()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch", "--debounce", "20ms", dir})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "v1") }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("console.log('v2');"), 0o644))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "v2") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchRestartsOnPreludeChange(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"playground.yaml": "prelude: prelude.js\n",
		"prelude.js":      "globalThis.tag = 'first';",
		"index.js":        "console.log('tag=' + tag);",
	})

	cmd := NewRootCommand()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch", "--debounce", "20ms", dir})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "tag=first") }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "prelude.js"), []byte("globalThis.tag = 'second';"), 0o644))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "tag=second") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
