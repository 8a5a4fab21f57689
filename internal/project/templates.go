package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/user/puppy/configs"
)

// Generator writes a template's initial files into dir.
type Generator func(dir string, metadata map[string]string) error

type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// Entry is the file the interpreter runs.
	Entry string `json:"entry"`

	Generate Generator `json:"-"`
}

var builtins = map[string]Template{
	"hello-world": {
		ID:          "hello-world",
		Name:        "Hello World",
		Description: `Create a simple Python program to print out "Hello World!".`,
		Entry:       "hello_world.py",
		Generate:    render(map[string]string{"hello_world.py": "hello_world.py.tmpl"}),
	},
	"microbit": {
		ID:          "microbit",
		Name:        "micro:bit",
		Description: "A MicroPython program for the BBC micro:bit.",
		Entry:       "main.py",
		Generate:    render(map[string]string{"main.py": "microbit_main.py.tmpl"}),
	},
}

// Templates lists the built-in templates ordered by ID.
func Templates() []Template {
	out := make([]Template, 0, len(builtins))
	for _, t := range builtins {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func Lookup(id string) (Template, bool) {
	t, ok := builtins[id]
	return t, ok
}

// render maps output paths to embedded template names. Output paths are
// templates themselves, expanded with the same metadata as the contents.
func render(files map[string]string) Generator {
	return func(dir string, metadata map[string]string) error {
		if metadata == nil {
			metadata = map[string]string{}
		}
		for pathTmpl, name := range files {
			path, err := expandPath(pathTmpl, metadata)
			if err != nil {
				return err
			}
			src, err := configs.Templates.ReadFile("templates/" + name)
			if err != nil {
				return fmt.Errorf("read template %s: %w", name, err)
			}
			tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(src))
			if err != nil {
				return fmt.Errorf("parse template %s: %w", name, err)
			}
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, metadata); err != nil {
				return fmt.Errorf("render template %s: %w", name, err)
			}
			full := filepath.Join(dir, path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return fmt.Errorf("create dir for %s: %w", path, err)
			}
			if err := os.WriteFile(full, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
		return nil
	}
}

func expandPath(pathTmpl string, metadata map[string]string) (string, error) {
	tmpl, err := template.New(pathTmpl).Option("missingkey=zero").Parse(pathTmpl)
	if err != nil {
		return "", fmt.Errorf("parse output path %q: %w", pathTmpl, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, metadata); err != nil {
		return "", fmt.Errorf("expand output path %q: %w", pathTmpl, err)
	}
	path := filepath.FromSlash(buf.String())
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, buf.String())
	}
	return path, nil
}
