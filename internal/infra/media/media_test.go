package media_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/infra/media"
)

func newStore(t *testing.T) *media.Store {
	t.Helper()
	s, err := media.New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("new media store: %v", err)
	}
	return s
}

func TestSaveAndOpen(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	ref, err := s.Save(strings.NewReader("jpeg-bytes"), "cat.JPG", post.KindPhoto)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Ext(ref) != ".jpg" {
		t.Fatalf("saved as %s, want .jpg extension", ref)
	}
	if !s.Exists(ref) {
		t.Fatalf("Exists(%s) = false after save", ref)
	}

	f, err := s.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 16)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "jpeg-bytes" {
		t.Fatalf("read %q, want %q", buf[:n], "jpeg-bytes")
	}
}

func TestExtFallbackByKind(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	ref, err := s.Save(strings.NewReader("mp4"), "", post.KindVideo)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(ref) != ".mp4" {
		t.Fatalf("saved as %s, want .mp4 extension", ref)
	}
}

func TestRefEscapeRejected(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	outside := filepath.Join(s.Root(), "..", "secret.txt")
	if _, err := s.Open(outside); err == nil {
		t.Fatal("Open() accepted reference outside uploads dir")
	}
	if s.Exists(outside) {
		t.Fatal("Exists() = true for reference outside uploads dir")
	}
	if err := s.Delete(outside); err == nil {
		t.Fatal("Delete() accepted reference outside uploads dir")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	ref, err := s.Save(strings.NewReader("x"), "a.bin", post.KindDocument)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ref); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	old, err := s.Save(strings.NewReader("old"), "old.jpg", post.KindPhoto)
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := s.Save(strings.NewReader("new"), "new.jpg", post.KindPhoto)
	if err != nil {
		t.Fatal(err)
	}

	kept, err := s.Save(strings.NewReader("keep"), "keep.jpg", post.KindPhoto)
	if err != nil {
		t.Fatal(err)
	}

	stale := time.Now().Add(-8 * 24 * time.Hour)
	for _, ref := range []string{old, kept} {
		if err := os.Chtimes(ref, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	keep := func(ref string) bool { return ref == filepath.Clean(kept) }
	removed, err := s.Sweep(time.Now().Add(-7*24*time.Hour), keep)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("sweep removed %d files, want 1", removed)
	}
	if s.Exists(old) {
		t.Fatal("old file survived sweep")
	}
	if !s.Exists(fresh) {
		t.Fatal("fresh file removed by sweep")
	}
	if !s.Exists(kept) {
		t.Fatal("referenced file removed by sweep")
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	nested := filepath.Join(s.Root(), "legacy", "100")
	if err := os.MkdirAll(nested, 0o700); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(s.Root(), "keep")
	if err := os.MkdirAll(keep, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(keep, "f.bin"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	s.RemoveEmptyDirs()

	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Fatal("empty nested dir survived")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("non-empty dir was removed")
	}
}
