package language

import (
	"fmt"
	"sort"
)

// Language is one entry of the table.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Table maps language tags to display names. A Table is read-only once built
// and safe for concurrent use.
type Table struct {
	names map[string]string
	list  []Language
}

// defaultNames is the set of 22 scheduled Indian languages served by default.
var defaultNames = map[string]string{
	"as":  "Assamese",
	"bn":  "Bengali",
	"brx": "Bodo",
	"doi": "Dogri",
	"gu":  "Gujarati",
	"hi":  "Hindi",
	"kn":  "Kannada",
	"kok": "Konkani",
	"ks":  "Kashmiri",
	"mai": "Maithili",
	"ml":  "Malayalam",
	"mni": "Manipuri",
	"mr":  "Marathi",
	"ne":  "Nepali",
	"or":  "Odia",
	"pa":  "Punjabi",
	"sa":  "Sanskrit",
	"sat": "Santali",
	"sd":  "Sindhi",
	"ta":  "Tamil",
	"te":  "Telugu",
	"ur":  "Urdu",
}

// Default returns the built-in table.
func Default() *Table {
	t, _ := NewTable(defaultNames)
	return t
}

// DefaultNames returns a copy of the built-in code → name map.
func DefaultNames() map[string]string {
	out := make(map[string]string, len(defaultNames))
	for k, v := range defaultNames {
		out[k] = v
	}
	return out
}

// NewTable builds a table from a code → name map.
func NewTable(names map[string]string) (*Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("language table cannot be empty")
	}

	t := &Table{
		names: make(map[string]string, len(names)),
		list:  make([]Language, 0, len(names)),
	}
	for code, name := range names {
		if code == "" {
			return nil, fmt.Errorf("language code cannot be empty")
		}
		if name == "" {
			return nil, fmt.Errorf("display name for %q cannot be empty", code)
		}
		t.names[code] = name
		t.list = append(t.list, Language{Code: code, Name: name})
	}
	sort.Slice(t.list, func(i, j int) bool { return t.list[i].Code < t.list[j].Code })

	return t, nil
}

// Lookup returns the display name for code.
func (t *Table) Lookup(code string) (string, bool) {
	name, ok := t.names[code]
	return name, ok
}

// Supports reports whether code is in the table.
func (t *Table) Supports(code string) bool {
	_, ok := t.names[code]
	return ok
}

// NameOr returns the display name for code or fallback when it is unknown.
func (t *Table) NameOr(code, fallback string) string {
	if name, ok := t.names[code]; ok {
		return name
	}
	return fallback
}

// List returns all languages sorted by code.
func (t *Table) List() []Language {
	out := make([]Language, len(t.list))
	copy(out, t.list)
	return out
}

// Len returns the number of languages.
func (t *Table) Len() int {
	return len(t.list)
}
