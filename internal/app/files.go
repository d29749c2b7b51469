package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrWriteDenied = errors.New("write access denied")

// Vault manages the assistant's on-disk notes and project files. Reads are
// allowed anywhere; writes are confined to the configured roots.
type Vault struct {
	Root       string
	WriteRoots []string
}

func NewVault(root string) *Vault {
	v := &Vault{Root: root}
	if root != "" {
		v.WriteRoots = []string{root, filepath.Join(filepath.Dir(root), "projects")}
	}
	return v
}

func (v *Vault) writable(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range v.WriteRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (v *Vault) EnsureFolder(path string) (string, error) {
	if !v.writable(path) {
		return "", ErrWriteDenied
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	return abs, nil
}

func (v *Vault) SaveFile(path, content string) error {
	if !v.writable(path) {
		return ErrWriteDenied
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func (v *Vault) LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Path  string `json:"path"`
}

func (v *Vault) ListDirectory(folder string) ([]DirEntry, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{
			Name:  e.Name(),
			IsDir: e.IsDir(),
			Path:  filepath.Join(abs, e.Name()),
		})
	}
	return out, nil
}

// InjectText appends to or replaces a file's content.
func (v *Vault) InjectText(path, newContent, mode string) (string, error) {
	if !v.writable(path) {
		return "", ErrWriteDenied
	}
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}
	content := existing + newContent
	if mode == "replace" {
		content = newContent
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("inject text: %w", err)
	}
	return content, nil
}
