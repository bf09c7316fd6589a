package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Uncategorized is assigned when nothing in the taxonomy applies.
const Uncategorized = "Uncategorized"

//go:embed categories.yaml
var defaultCategories []byte

type categoryConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type categoriesConfig struct {
	Categories []categoryConfig `yaml:"categories"`
}

// Taxonomy is the closed set of categories plus the keywords that map a
// description onto one of them.
type Taxonomy struct {
	names    []string
	canon    map[string]string // lowercased name -> name
	keywords map[string]string // keyword -> name
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultCategories)
	if err != nil {
		panic(fmt.Sprintf("embedded categories: %v", err))
	}
	return t
}

// LoadTaxonomy reads a categories YAML file. An empty path yields the
// built-in taxonomy.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return ParseTaxonomy(b)
}

// ParseTaxonomy builds a taxonomy from YAML.
func ParseTaxonomy(b []byte) (*Taxonomy, error) {
	var cfg categoriesConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("parse categories: no categories defined")
	}
	t := &Taxonomy{
		canon:    make(map[string]string),
		keywords: make(map[string]string),
	}
	for _, c := range cfg.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("parse categories: empty category name")
		}
		if _, dup := t.canon[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("parse categories: duplicate category %q", name)
		}
		t.names = append(t.names, name)
		t.canon[strings.ToLower(name)] = name
		for _, k := range c.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if _, taken := t.keywords[k]; !taken {
				t.keywords[k] = name
			}
		}
	}
	t.canon[strings.ToLower(Uncategorized)] = Uncategorized
	return t, nil
}

// Names lists the categories in file order, without Uncategorized.
func (t *Taxonomy) Names() []string {
	return append([]string(nil), t.names...)
}

// Canonical maps a label onto a taxonomy name, ignoring case.
func (t *Taxonomy) Canonical(label string) (string, bool) {
	name, ok := t.canon[strings.ToLower(strings.TrimSpace(label))]
	return name, ok
}

// Infer picks the category for a description. Keywords are matched on
// whole words; the first word with a mapping wins.
func (t *Taxonomy) Infer(description string) string {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if name, ok := t.keywords[w]; ok {
			return name
		}
	}
	return Uncategorized
}

// Resolve returns label when it names a category, otherwise falls back to
// inference from the description. It never fails.
func (t *Taxonomy) Resolve(label, description string) string {
	if name, ok := t.Canonical(label); ok && name != Uncategorized {
		return name
	}
	return t.Infer(description)
}
