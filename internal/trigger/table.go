package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidTable is returned for a trigger file that is not an object of
	// non-empty phrase strings to non-empty command strings.
	ErrInvalidTable = errors.New("trigger: invalid trigger table")

	// ErrDuplicatePhrase is returned when two phrases normalise to the same
	// text. It is always wrapped together with [ErrInvalidTable].
	ErrDuplicatePhrase = errors.New("trigger: duplicate phrase")
)

// Entry is one phrase with its command.
type Entry struct {
	// Phrase is the normalised trigger phrase.
	Phrase string

	// Command is the shell command the phrase runs.
	Command string

	tokens []string
}

// Tokens returns the phrase split into words.
func (e Entry) Tokens() []string { return e.tokens }

// Pair is an unnormalised phrase/command pair as written in a trigger file.
type Pair struct {
	Phrase  string
	Command string
}

// Table maps normalised phrases to commands in file order. A Table is
// immutable after construction and safe for concurrent use.
type Table struct {
	entries []Entry
	index   map[string]int
}

// NewTable normalises pairs into a Table. Empty phrases or commands and
// phrases that collide after normalisation are rejected.
func NewTable(pairs []Pair) (*Table, error) {
	t := &Table{
		entries: make([]Entry, 0, len(pairs)),
		index:   make(map[string]int, len(pairs)),
	}
	for _, p := range pairs {
		phrase := Normalize(p.Phrase)
		if phrase == "" {
			return nil, fmt.Errorf("%w: phrase %q is empty after normalisation", ErrInvalidTable, p.Phrase)
		}
		if strings.TrimSpace(p.Command) == "" {
			return nil, fmt.Errorf("%w: phrase %q has an empty command", ErrInvalidTable, p.Phrase)
		}
		if _, dup := t.index[phrase]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidTable, ErrDuplicatePhrase, phrase)
		}
		t.index[phrase] = len(t.entries)
		t.entries = append(t.entries, Entry{
			Phrase:  phrase,
			Command: p.Command,
			tokens:  strings.Fields(phrase),
		})
	}
	return t, nil
}

// DefaultTable returns the built-in phrases used when no trigger file is
// configured.
func DefaultTable() *Table {
	t, err := NewTable([]Pair{
		{"open browser", "xdg-open https://www.wikipedia.org"},
		{"turn off screen", "bash -lc 'xset dpms force off'"},
		{"say hello", `bash -lc 'notify-send "Trigger activated" "Hello from voice trigger"'`},
	})
	if err != nil {
		panic("trigger: default table: " + err.Error())
	}
	return t
}

// LoadFile reads a trigger table from path on fs. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON. Either way the document
// must be a single object mapping phrase to command.
func LoadFile(fs afero.Fs, path string) (*Table, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("trigger: read %s: %w", path, err)
	}
	var pairs []Pair
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		pairs, err = parseYAML(data)
	default:
		pairs, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t, err := NewTable(pairs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// parseJSON walks the token stream so file order is preserved and literal
// duplicate keys are caught.
func parseJSON(data []byte) ([]Pair, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidTable)
	}

	var pairs []Pair
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		key := tok.(string) // object keys are always strings
		if seen[key] {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidTable, ErrDuplicatePhrase, key)
		}
		seen[key] = true

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		val, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value of %q must be a string", ErrInvalidTable, key)
		}
		pairs = append(pairs, Pair{Phrase: key, Command: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidTable)
	}
	return pairs, nil
}

func parseYAML(data []byte) ([]Pair, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidTable)
	}
	m := doc.Content[0]

	var pairs []Pair
	seen := make(map[string]bool)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || k.ShortTag() != "!!str" {
			return nil, fmt.Errorf("%w: line %d: phrase must be a string", ErrInvalidTable, k.Line)
		}
		if v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" {
			return nil, fmt.Errorf("%w: line %d: command for %q must be a string", ErrInvalidTable, v.Line, k.Value)
		}
		if seen[k.Value] {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidTable, ErrDuplicatePhrase, k.Value)
		}
		seen[k.Value] = true
		pairs = append(pairs, Pair{Phrase: k.Value, Command: v.Value})
	}
	return pairs, nil
}

// Len returns the number of phrases.
func (t *Table) Len() int { return len(t.entries) }

// Entries returns the phrases in table order. The slice must not be modified.
func (t *Table) Entries() []Entry { return t.entries }

// Lookup normalises phrase and returns its command.
func (t *Table) Lookup(phrase string) (string, bool) {
	i, ok := t.index[Normalize(phrase)]
	if !ok {
		return "", false
	}
	return t.entries[i].Command, true
}

// Phrases returns the normalised phrases in table order.
func (t *Table) Phrases() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Phrase
	}
	return out
}
