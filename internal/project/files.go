package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Project files are read and written as UTF-8 text.
var (
	ErrInvalidPath  = errors.New("invalid project file path")
	ErrFileNotFound = errors.New("project file not found")
	ErrNotText      = errors.New("project file is not UTF-8 text")
	ErrFileTooLarge = errors.New("project file too large")
)

// maxFileSize caps what ReadFile and WriteFile accept.
const maxFileSize = 1 << 20

// Files lists the project's regular files as slash-separated paths relative
// to its root, skipping hidden entries.
func (m *Manager) Files(ctx context.Context, name string) ([]string, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != p.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files of %q: %w", name, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile returns the text of a file inside the project.
func (m *Manager) ReadFile(ctx context.Context, name, relPath string) (string, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return "", err
	}
	full, err := resolve(p.Root, relPath)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, relPath)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%w: %s", ErrFileTooLarge, relPath)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrNotText, relPath)
	}
	return string(data), nil
}

// WriteFile replaces (or creates) a file inside the project.
func (m *Manager) WriteFile(ctx context.Context, name, relPath, text string) error {
	p, err := m.Get(ctx, name)
	if err != nil {
		return err
	}
	full, err := resolve(p.Root, relPath)
	if err != nil {
		return err
	}
	if len(text) > maxFileSize {
		return fmt.Errorf("%w: %s", ErrFileTooLarge, relPath)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: %s", ErrNotText, relPath)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return m.Touch(ctx, p)
}

// resolve maps a slash-separated path onto root, refusing anything that
// would leave it, including through a symlinked directory.
func resolve(root, relPath string) (string, error) {
	clean := filepath.FromSlash(relPath)
	if relPath == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	full := filepath.Join(root, clean)

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	// the file itself may not exist yet; check the deepest existing parent
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	if rel, err := filepath.Rel(realRoot, real); err != nil || !filepath.IsLocal(rel) && rel != "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return full, nil
}
