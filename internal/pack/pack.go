// Package pack loads and validates prompt packs.
package pack

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
)

// Blank is the placeholder token a prompt may contain once.
const Blank = "<BLANK>"

const blankRendered = "`______`"

//go:embed builtin/*.json
var builtin embed.FS

var (
	ErrMissingName        = errors.New("pack is missing a name")
	ErrMissingDescription = errors.New("pack is missing a description")
	ErrMissingPrompts     = errors.New("pack is missing prompts")
	ErrNotFound           = errors.New("that pack doesn't exist")
)

type Pack struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompts     []string `json:"prompts"`
}

// ValidationError lists every problem found with a pack.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return strings.Join(msgs, "; ")
}

// Report renders the problems for the pack's author, one per line.
func (e *ValidationError) Report() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "That " + p.Error() + "!"
	}
	return strings.Join(lines, "\n")
}

func (e *ValidationError) Unwrap() []error { return e.Problems }

func (p Pack) Validate() error {
	var problems []error
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, ErrMissingName)
	}
	if strings.TrimSpace(p.Description) == "" {
		problems = append(problems, ErrMissingDescription)
	}
	if len(p.Prompts) == 0 {
		problems = append(problems, ErrMissingPrompts)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Key is the lookup name of a pack.
func (p Pack) Key() string { return strings.ToLower(strings.TrimSpace(p.Name)) }

// Render returns prompt i with its blank made visible.
func (p Pack) Render(i int) string { return Render(p.Prompts[i]) }

func Render(prompt string) string { return strings.Replace(prompt, Blank, blankRendered, 1) }

// Parse decodes and validates a pack, for instance from an uploaded file.
func Parse(data []byte) (Pack, error) {
	var p Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return Pack{}, fmt.Errorf("decode pack: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Library is the set of packs available by name.
type Library struct {
	packs map[string]Pack
}

// Builtin returns a library with the packs shipped in the binary.
func Builtin() (*Library, error) {
	lib := &Library{packs: make(map[string]Pack)}
	if err := lib.load(builtin, "builtin"); err != nil {
		return nil, err
	}
	return lib, nil
}

// LoadDir adds every *.json pack in dir. A missing directory is not an error.
func (l *Library) LoadDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return l.load(os.DirFS(dir), ".")
}

func (l *Library) load(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read packs: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read pack %s: %w", e.Name(), err)
		}
		p, err := Parse(data)
		if err != nil {
			return fmt.Errorf("pack %s: %w", e.Name(), err)
		}
		l.packs[p.Key()] = p
	}
	return nil
}

func (l *Library) Get(name string) (Pack, error) {
	p, ok := l.packs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Pack{}, ErrNotFound
	}
	return p, nil
}

// Names returns the display names of every pack, sorted.
func (l *Library) Names() []string {
	out := make([]string, 0, len(l.packs))
	for _, p := range l.packs {
		out = append(out, p.Name)
	}
	slices.Sort(out)
	return out
}

func (l *Library) Len() int { return len(l.packs) }
