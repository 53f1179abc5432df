package script

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultName is the script every viewer falls back to.
const DefaultName = "trouble_brewing.json"

// indexName lists the builtin scripts when present in a library directory.
const indexName = "scripts.json"

//go:embed scripts/*.json
var embedded embed.FS

var (
	ErrNotFound    = errors.New("script: builtin not found")
	ErrInvalidName = errors.New("script: invalid builtin name")
)

// Library resolves builtin script names. Files in Dir shadow the embedded
// copies; an empty Dir serves only the embedded scripts.
type Library struct {
	Dir string
}

func NewLibrary(dir string) *Library {
	return &Library{Dir: dir}
}

// ValidName reports whether name is a bare *.json file name.
func ValidName(name string) bool {
	if name == "" || name == indexName || !strings.HasSuffix(name, ".json") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return true
}

// Load reads and validates the builtin script called name.
func (l *Library) Load(name string) (Body, error) {
	raw, err := l.Raw(name)
	if err != nil {
		return Body{}, err
	}
	body, err := Parse(raw)
	if err != nil {
		return Body{}, fmt.Errorf("builtin %s: %w", name, err)
	}
	return body, nil
}

// Raw returns the file contents without validation.
func (l *Library) Raw(name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if l != nil && l.Dir != "" {
		raw, err := os.ReadFile(filepath.Join(l.Dir, name))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	raw, err := embedded.ReadFile("scripts/" + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return raw, nil
}

// List returns the builtin names. A scripts.json index in Dir wins over a
// directory listing; embedded scripts are always included.
func (l *Library) List() ([]string, error) {
	seen := map[string]struct{}{}
	add := func(name string) {
		if ValidName(name) {
			seen[name] = struct{}{}
		}
	}

	if l != nil && l.Dir != "" {
		names, err := l.dirNames()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			add(n)
		}
	}
	entries, _ := fs.ReadDir(embedded, "scripts")
	for _, e := range entries {
		add(e.Name())
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Library) dirNames() ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(l.Dir, indexName))
	if err == nil {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("script: %s: %w", indexName, err)
		}
		return names, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Default returns the embedded default script. It cannot fail.
func Default() Body {
	raw, err := embedded.ReadFile("scripts/" + DefaultName)
	if err != nil {
		panic("script: embedded default missing: " + err.Error())
	}
	body, err := Parse(raw)
	if err != nil {
		panic("script: embedded default invalid: " + err.Error())
	}
	return body
}
