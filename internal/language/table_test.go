package language

import "testing"

func TestDefaultTable(t *testing.T) {
	table := Default()

	if table.Len() != 22 {
		t.Fatalf("expected 22 languages, got %d", table.Len())
	}

	name, ok := table.Lookup("hi")
	if !ok || name != "Hindi" {
		t.Errorf("expected hi -> Hindi, got %q (%v)", name, ok)
	}

	if table.Supports("xx") {
		t.Error("expected xx to be unsupported")
	}

	if got := table.NameOr("xx", "Unknown"); got != "Unknown" {
		t.Errorf("expected fallback name, got %q", got)
	}
}

func TestListIsSorted(t *testing.T) {
	list := Default().List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Code >= list[i].Code {
			t.Fatalf("list not sorted at %d: %s >= %s", i, list[i-1].Code, list[i].Code)
		}
	}
}

func TestListReturnsCopy(t *testing.T) {
	table := Default()
	list := table.List()
	list[0].Name = "changed"

	if table.List()[0].Name == "changed" {
		t.Error("mutating List() result changed the table")
	}
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name        string
		names       map[string]string
		expectError bool
	}{
		{"valid", map[string]string{"en": "English"}, false},
		{"empty table", map[string]string{}, true},
		{"empty code", map[string]string{"": "Nothing"}, true},
		{"empty name", map[string]string{"en": ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.names)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultNamesReturnsCopy(t *testing.T) {
	names := DefaultNames()
	names["hi"] = "changed"

	if name, _ := Default().Lookup("hi"); name != "Hindi" {
		t.Errorf("default table modified through DefaultNames, got %q", name)
	}
}
