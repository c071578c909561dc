package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"steam-sessions/internal/model"
)

func TestSaveWritesPrettyJSONAtomically(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	session := model.Session{
		Username:        "Alice",
		Password:        "pw",
		SteamID:         "76561198000000001",
		WebRefreshToken: "a.b.c",
	}
	if err := store.Save(context.Background(), session); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Alice.steamsession"))
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\n  \"Username\": \"Alice\"") {
		t.Fatalf("expected pretty printed JSON, got %s", text)
	}
	if !strings.Contains(text, "\"SteamId\": \"76561198000000001\"") {
		t.Fatalf("expected SteamId field, got %s", text)
	}
	if !strings.Contains(text, "\"SchemaVersion\": 3") {
		t.Fatalf("expected schema version 3, got %s", text)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".steam-sessions-tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadExistingSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()
	if err := store.Save(ctx, model.Session{Username: "Bob", SchemaVersion: 3}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.steamsession"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "old.steamsession"), []byte(`{"Username":"old","SchemaVersion":0}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	byName, bad, err := store.LoadByUsername(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(byName) != 1 {
		t.Fatalf("expected 1 session, got %d", len(byName))
	}
	if _, ok := byName["bob"]; !ok {
		t.Fatalf("expected lowercase key for Bob, got %v", byName)
	}
	if len(bad) != 2 {
		t.Fatalf("expected 2 bad files, got %d: %v", len(bad), bad)
	}
}

func TestLoadExistingMissingDir(t *testing.T) {
	sessions, bad, err := New(filepath.Join(t.TempDir(), "nope")).LoadExisting(context.Background())
	if err != nil || len(sessions) != 0 || len(bad) != 0 {
		t.Fatalf("expected empty result, got %v %v %v", sessions, bad, err)
	}
}

func TestSaveConcurrentDistinctUsernames(t *testing.T) {
	store := New(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Save(context.Background(), model.Session{Username: fmt.Sprintf("user%d", i)}); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	sessions, _, err := store.LoadExisting(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 20 {
		t.Fatalf("expected 20 sessions, got %d", len(sessions))
	}
}
