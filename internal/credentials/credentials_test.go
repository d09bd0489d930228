package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/logging"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func inode(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		t.Skip("inode not available on this platform")
	}
	return uint64(st.Ino)
}

func TestCopyClaude(t *testing.T) {
	logging.Discard()
	home := t.TempDir()
	dest := t.TempDir()
	write(t, filepath.Join(home, ".claude", ".credentials.json"), `{"token":"a"}`)
	write(t, filepath.Join(home, ".claude", "settings.json"), `{}`)
	write(t, filepath.Join(home, ".claude", "statsig", "cache"), "s")
	write(t, filepath.Join(home, ".claude", "projects", "huge.jsonl"), "not copied")
	write(t, filepath.Join(home, ".claude.json"), `{"account":1}`)

	iso, err := New(home)
	if err != nil {
		t.Fatal(err)
	}
	if err := iso.Copy(Claude, dest); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	cache := filepath.Join(dest, constants.DirClaudeCache)
	if got := read(t, filepath.Join(cache, ".credentials.json")); got != `{"token":"a"}` {
		t.Errorf("credentials = %q", got)
	}
	if got := read(t, filepath.Join(cache, "statsig", "cache")); got != "s" {
		t.Errorf("statsig = %q", got)
	}
	if _, err := os.Stat(filepath.Join(cache, "projects")); !os.IsNotExist(err) {
		t.Error("unlisted directory copied")
	}
	if got := read(t, filepath.Join(dest, constants.FileClaudeJSON)); got != `{"account":1}` {
		t.Errorf(".claude.json = %q", got)
	}
}

func TestCopyReplacesContentsKeepsInode(t *testing.T) {
	logging.Discard()
	home := t.TempDir()
	dest := t.TempDir()
	write(t, filepath.Join(home, ".gemini", "oauth_creds.json"), "v1")

	iso, _ := New(home)
	if err := iso.Copy(Gemini, dest); err != nil {
		t.Fatal(err)
	}
	cache := filepath.Join(dest, constants.DirGeminiCache)
	before := inode(t, cache)
	write(t, filepath.Join(cache, "stale.json"), "left by container")

	write(t, filepath.Join(home, ".gemini", "oauth_creds.json"), "v2")
	if err := iso.Copy(Gemini, dest); err != nil {
		t.Fatal(err)
	}
	if inode(t, cache) != before {
		t.Error("cache directory was recreated")
	}
	if got := read(t, filepath.Join(cache, "oauth_creds.json")); got != "v2" {
		t.Errorf("oauth_creds = %q, want v2", got)
	}
	if _, err := os.Stat(filepath.Join(cache, "stale.json")); !os.IsNotExist(err) {
		t.Error("previous copy not cleared")
	}
}

func TestCopyMissingIsNonFatal(t *testing.T) {
	logging.Discard()
	home := t.TempDir()
	dest := t.TempDir()
	write(t, filepath.Join(home, ".codex", "auth.json"), "codex")

	iso, _ := New(home)
	errs := iso.CopyAll(dest)

	for _, kind := range []Kind{Claude, Gemini} {
		err := errs[kind]
		if !errors.Is(err, ErrMissing) {
			t.Errorf("%s err = %v, want ErrMissing", kind, err)
		}
		var me *MissingError
		if !errors.As(err, &me) || me.Kind != kind {
			t.Errorf("%s err = %#v", kind, err)
		}
	}
	if errs[Codex] != nil {
		t.Errorf("codex err = %v", errs[Codex])
	}
	if got := read(t, filepath.Join(dest, constants.DirCodexCache, "auth.json")); got != "codex" {
		t.Errorf("codex auth = %q", got)
	}
	// The mount sources must exist even without credentials.
	for _, p := range []string{constants.DirClaudeCache, constants.DirGeminiCache, constants.FileClaudeJSON} {
		if _, err := os.Stat(filepath.Join(dest, p)); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if len(SortedErrors(errs)) != 2 {
		t.Errorf("SortedErrors = %v", SortedErrors(errs))
	}
}

func TestCopyEditorConfig(t *testing.T) {
	home := t.TempDir()
	dest := t.TempDir()
	write(t, filepath.Join(home, ".config", "emacs", "init.el"), "(setq x 1)")

	iso, _ := New(home)
	if err := iso.CopyEditorConfig(dest); err != nil {
		t.Fatal(err)
	}
	if got := read(t, filepath.Join(dest, constants.DirEmacsConfig, "init.el")); got != "(setq x 1)" {
		t.Errorf("init.el = %q", got)
	}
	for _, dir := range append(iso.EditorCacheDirs(), filepath.Join(dest, constants.DirEmacsCache)) {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}

func TestEnsureHistfileNeverTruncates(t *testing.T) {
	dest := t.TempDir()
	if err := EnsureHistfile(dest); err != nil {
		t.Fatal(err)
	}
	hist := filepath.Join(dest, constants.FileHistfile)
	write(t, hist, "ls\ncd /\n")
	if err := EnsureHistfile(dest); err != nil {
		t.Fatal(err)
	}
	if got := read(t, hist); got != "ls\ncd /\n" {
		t.Errorf("history = %q", got)
	}
}
