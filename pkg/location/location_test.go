package location

import (
	"testing"

	"github.com/gofhir/pathcheck/pkg/issue"
)

var bundleJSON = []byte(`{
  "resourceType": "Bundle",
  "entry": [
    {
      "resource": {
        "resourceType": "SearchParameter",
        "expression": "Patient.name"
      }
    },
    {
      "resource": {
        "resourceType": "SearchParameter",
        "expression": "Patient.name.where(use = \"official\").chicken"
      }
    }
  ]
}`)

func TestFind(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		path       string
		wantLine   int
		wantColumn int
		wantNil    bool
	}{
		{"root member", bundleJSON, "resourceType", 2, 19, false},
		{"bundle entry", bundleJSON, "entry[0].resource.expression", 7, 23, false},
		{"second entry", bundleJSON, "entry[1].resource.expression", 13, 23, false},
		{"array item", bundleJSON, "entry[1]", 10, 5, false},
		{"root array", []byte(`[{"expression": "a"}, {"expression": "b"}]`), "[1].expression", 1, 38, false},
		{"missing key", bundleJSON, "entry[0].resource.code", 0, 0, true},
		{"index out of range", bundleJSON, "entry[5].resource", 0, 0, true},
		{"not an array", bundleJSON, "resourceType[0]", 0, 0, true},
		{"empty path", bundleJSON, "", 0, 0, true},
		{"empty data", nil, "expression", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := Find(tt.data, tt.path)
			if tt.wantNil {
				if loc != nil {
					t.Errorf("Find(%q) = %v, want nil", tt.path, loc)
				}
				return
			}
			if loc == nil {
				t.Fatalf("Find(%q) = nil", tt.path)
			}
			if loc.Line != tt.wantLine || loc.Column != tt.wantColumn {
				t.Errorf("Find(%q) = %d:%d, want %d:%d", tt.path, loc.Line, loc.Column, tt.wantLine, tt.wantColumn)
			}
		})
	}
}

func TestFindSkipsNestedValues(t *testing.T) {
	data := []byte(`{"meta": {"expression": "nested"}, "note": "expression", "expression": "x"}`)
	loc := Find(data, "expression")
	if loc == nil || loc.Column != 72 {
		t.Errorf("Find() = %v, want 1:72", loc)
	}
}

func TestResolve(t *testing.T) {
	path := "entry[1].resource.expression"
	tests := []struct {
		name string
		rel  *issue.Location
		want issue.Location
	}{
		{"start", &issue.Location{Line: 1, Column: 1}, issue.Location{Line: 13, Column: 24}},
		{"after escapes", &issue.Location{Line: 1, Column: 38}, issue.Location{Line: 13, Column: 63}},
		{"nil keeps string", nil, issue.Location{Line: 13, Column: 23}},
		{"out of range keeps string", &issue.Location{Line: 3, Column: 1}, issue.Location{Line: 13, Column: 23}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(bundleJSON, path, tt.rel)
			if got == nil || *got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveEscapedNewline(t *testing.T) {
	data := []byte(`{"expression": "name\n  .chicken"}`)
	got := Resolve(data, "expression", &issue.Location{Line: 2, Column: 4})
	if got == nil || got.Line != 1 || got.Column != 26 {
		t.Errorf("Resolve() = %v, want 1:26", got)
	}
}

func TestRelocate(t *testing.T) {
	text := `Patient.name.where(use = "official").chicken`
	issues := []issue.Issue{
		{Expression: []string{text}, Location: &issue.Location{Line: 1, Column: 38}},
		{Expression: []string{"Patient.name"}, Location: &issue.Location{Line: 1, Column: 9}},
		{Expression: []string{text}},
	}
	Relocate(bundleJSON, "entry[1].resource.expression", text, issues)

	if got := issues[0].Location.String(); got != "13:63" {
		t.Errorf("issues[0] = %s, want 13:63", got)
	}
	if got := issues[1].Location.String(); got != "1:9" {
		t.Errorf("issues[1] = %s, other expressions should be untouched", got)
	}
	if got := issues[2].Location.String(); got != "13:23" {
		t.Errorf("issues[2] = %s, want the string position", got)
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"expression", []string{"expression"}},
		{"[2].expression", []string{"2", "expression"}},
		{"entry[0].resource.component[1].expression", []string{"entry", "0", "resource", "component", "1", "expression"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := splitPath(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("splitPath(%q) = %q, want %q", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitPath(%q) = %q, want %q", tt.path, got, tt.want)
				break
			}
		}
	}
}

func TestOffsetToLineCol(t *testing.T) {
	input := []byte("ab\ncé\nx")
	tests := []struct {
		offset int
		line   int
		col    int
	}{
		{0, 1, 1},
		{2, 1, 3},
		{3, 2, 1},
		{6, 2, 3},
		{7, 3, 1},
	}
	for _, tt := range tests {
		line, col := offsetToLineCol(input, tt.offset)
		if line != tt.line || col != tt.col {
			t.Errorf("offsetToLineCol(%d) = %d:%d, want %d:%d", tt.offset, line, col, tt.line, tt.col)
		}
	}
}
