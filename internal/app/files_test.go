package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVaultSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	v := NewVault(root)

	path := filepath.Join(root, "notes", "today.md")
	if err := v.SaveFile(path, "# Today"); err != nil {
		t.Fatalf("SaveFile returned error: %v", err)
	}
	content, err := v.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if content != "# Today" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestVaultWriteDeniedOutsideRoots(t *testing.T) {
	v := NewVault(t.TempDir())
	outside := filepath.Join(t.TempDir(), "escape.md")
	if err := v.SaveFile(outside, "nope"); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("expected ErrWriteDenied, got %v", err)
	}
	if _, err := v.EnsureFolder(filepath.Dir(outside)); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("expected ErrWriteDenied for folder, got %v", err)
	}
	if _, err := v.InjectText(outside, "x", "append"); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("expected ErrWriteDenied for inject, got %v", err)
	}
}

func TestVaultProjectsSiblingWritable(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "vault")
	v := NewVault(root)

	path := filepath.Join(base, "projects", "demo", "main.go")
	if err := v.SaveFile(path, "package main"); err != nil {
		t.Errorf("projects sibling should be writable: %v", err)
	}
}

func TestVaultLoadMissingFile(t *testing.T) {
	v := NewVault(t.TempDir())
	if _, err := v.LoadFile(filepath.Join(v.Root, "missing.md")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestVaultEnsureFolder(t *testing.T) {
	root := t.TempDir()
	v := NewVault(root)
	created, err := v.EnsureFolder(filepath.Join(root, "a", "b", "c"))
	if err != nil {
		t.Fatalf("EnsureFolder returned error: %v", err)
	}
	info, err := os.Stat(created)
	if err != nil || !info.IsDir() {
		t.Errorf("folder not created: %v", err)
	}
}

func TestVaultListDirectory(t *testing.T) {
	root := t.TempDir()
	v := NewVault(root)
	if err := v.SaveFile(filepath.Join(root, "one.md"), "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.EnsureFolder(filepath.Join(root, "sub")); err != nil {
		t.Fatal(err)
	}

	items, err := v.ListDirectory(root)
	if err != nil {
		t.Fatalf("ListDirectory returned error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %v", items)
	}
	byName := map[string]DirEntry{}
	for _, it := range items {
		byName[it.Name] = it
	}
	if e, ok := byName["one.md"]; !ok || e.IsDir {
		t.Errorf("file entry wrong: %+v", e)
	}
	if e, ok := byName["sub"]; !ok || !e.IsDir {
		t.Errorf("dir entry wrong: %+v", e)
	}
}

func TestVaultInjectText(t *testing.T) {
	root := t.TempDir()
	v := NewVault(root)
	path := filepath.Join(root, "log.md")
	if err := v.SaveFile(path, "first\n"); err != nil {
		t.Fatal(err)
	}

	updated, err := v.InjectText(path, "second\n", "append")
	if err != nil {
		t.Fatalf("append returned error: %v", err)
	}
	if updated != "first\nsecond\n" {
		t.Errorf("append result: %q", updated)
	}

	updated, err = v.InjectText(path, "only\n", "replace")
	if err != nil {
		t.Fatalf("replace returned error: %v", err)
	}
	if updated != "only\n" {
		t.Errorf("replace result: %q", updated)
	}

	on, err := v.LoadFile(path)
	if err != nil || on != "only\n" {
		t.Errorf("file on disk: %q (%v)", on, err)
	}
}
