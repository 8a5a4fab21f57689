package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/user/puppy/internal/db"
)

var (
	ErrNotFound        = errors.New("project not found")
	ErrExists          = errors.New("project already exists")
	ErrInvalidName     = errors.New("invalid project name")
	ErrUnknownTemplate = errors.New("unknown project template")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Manager keeps projects as directories under root, indexed in the database.
type Manager struct {
	root string
	repo *db.ProjectRepo
}

func NewManager(root string, repo *db.ProjectRepo) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create project root %q: %w", root, err)
	}
	return &Manager{root: root, repo: repo}, nil
}

func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) Create(ctx context.Context, name, templateID string, metadata map[string]string) (*db.Project, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	tmpl, ok := Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	existing, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}

	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	if err := tmpl.Generate(dir, metadata); err != nil {
		return nil, err
	}

	p := &db.Project{
		Name:     name,
		Template: tmpl.ID,
		Root:     dir,
		Entry:    tmpl.Entry,
		Metadata: metadata,
	}
	if err := m.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Manager) Get(ctx context.Context, name string) (*db.Project, error) {
	p, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

func (m *Manager) List(ctx context.Context) ([]*db.Project, error) {
	return m.repo.List(ctx)
}

// Ensure opens the named project, creating it from templateID when it does
// not exist yet. A missing entry file is regenerated.
func (m *Manager) Ensure(ctx context.Context, name, templateID string) (*db.Project, error) {
	p, err := m.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return m.Create(ctx, name, templateID, nil)
	}
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(p.Root, p.Entry)); errors.Is(err, os.ErrNotExist) {
		tmpl, ok := Lookup(p.Template)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, p.Template)
		}
		if err := os.MkdirAll(p.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create project dir: %w", err)
		}
		if err := tmpl.Generate(p.Root, p.Metadata); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Touch records that the project was just used.
func (m *Manager) Touch(ctx context.Context, p *db.Project) error {
	return m.repo.Touch(ctx, p.ID)
}
