package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "dailytask/pkg/logx"
)

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, KeyAccessToken); err != nil || ok {
		t.Fatalf("Load before save: ok=%v err=%v", ok, err)
	}

	if err := s.Save(ctx, KeyAccessToken, "tok-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v, ok, err := s.Load(ctx, KeyAccessToken)
	if err != nil || !ok || v != "tok-1" {
		t.Fatalf("Load = (%q, %v, %v)", v, ok, err)
	}

	// overwrite
	if err := s.Save(ctx, KeyAccessToken, "tok-2"); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	v, ok, err = s.Load(ctx, KeyAccessToken)
	if err != nil || !ok || v != "tok-2" {
		t.Fatalf("Load after overwrite = (%q, %v, %v)", v, ok, err)
	}

	// keys are independent
	if err := s.Save(ctx, KeyRefreshToken, "refresh"); err != nil {
		t.Fatalf("Save refresh: %v", err)
	}
	v, _, _ = s.Load(ctx, KeyAccessToken)
	if v != "tok-2" {
		t.Fatalf("access token clobbered: %q", v)
	}

	if err := s.Save(ctx, "", "x"); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestFileStorePermissions(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save(context.Background(), KeyAccessToken, "secret"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, KeyAccessToken))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file mode = %o, want 600", perm)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tokens.db")
	ctx := context.Background()

	s, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(ctx, KeyRefreshToken, "persisted"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Load(ctx, KeyRefreshToken)
	if err != nil || !ok || v != "persisted" {
		t.Fatalf("Load after reopen = (%q, %v, %v)", v, ok, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must be rejected")
	}
}
