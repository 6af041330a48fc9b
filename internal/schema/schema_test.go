package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/telltale/internal/prop"
)

func TestNewRejectsDuplicates(t *testing.T) {
	t.Run("duplicate property id", func(t *testing.T) {
		_, err := New([]prop.Config{
			{Prop: 0x1100, Type: prop.TypeInt32},
			{Prop: 0x1100, Type: prop.TypeInt64},
		})
		if err == nil {
			t.Fatal("want error for duplicate property id")
		}
	})

	t.Run("duplicate area id", func(t *testing.T) {
		_, err := New([]prop.Config{
			{Prop: 0x1100, Type: prop.TypeInt32, Areas: []prop.AreaConfig{{Area: 1}, {Area: 1}}},
		})
		if err == nil {
			t.Fatal("want error for duplicate area id")
		}
	})
}

func TestLookupAndAll(t *testing.T) {
	configs := []prop.Config{
		{Prop: 0x1100, Type: prop.TypeInt32Vec},
		{Prop: 0x2200, Type: prop.TypeString},
	}
	s, err := New(configs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	cfg, ok := s.Lookup(0x2200)
	if !ok {
		t.Fatal("Lookup(0x2200) should succeed")
	}
	if cfg.Type != prop.TypeString {
		t.Errorf("type = %v, want STRING", cfg.Type)
	}

	if _, ok := s.Lookup(0x9999); ok {
		t.Error("Lookup of unknown property should fail")
	}

	all := s.All()
	if len(all) != 2 || all[0].Prop != 0x1100 || all[1].Prop != 0x2200 {
		t.Errorf("All() should preserve declaration order, got %+v", all)
	}
}

func TestParseFile(t *testing.T) {
	const doc = `
version: 1
properties:
  - prop: 0x21e01100
    type: INT32_VEC
    areas:
      - area: 0
        min_int32: 0
        max_int32: 100
  - prop: 0x21e01101
    type: INT32
    areas:
      - area: 1
        min_int32: 0
        max_int32: 100
  - prop: 0x21e01102
    type: FLOAT_VEC
`

	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	vec, ok := s.Lookup(0x21e01100)
	if !ok {
		t.Fatal("vec property missing")
	}
	ac, ok := vec.Area(0)
	if !ok {
		t.Fatal("vec property area 0 missing")
	}
	if ac.MinInt32 == nil || *ac.MinInt32 != 0 || ac.MaxInt32 == nil || *ac.MaxInt32 != 100 {
		t.Errorf("vec property bounds not parsed: %+v", ac)
	}

	novec, ok := s.Lookup(0x21e01102)
	if !ok {
		t.Fatal("float property missing")
	}
	if len(novec.Areas) != 0 {
		t.Errorf("float property should have no explicit areas, got %d", len(novec.Areas))
	}
}

func TestParseRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong version", "version: 2\nproperties:\n  - prop: 1\n    type: INT32\n"},
		{"no properties", "version: 1\nproperties: []\n"},
		{"unknown type", "version: 1\nproperties:\n  - prop: 1\n    type: QUATERNION\n"},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Fatal("Parse should fail")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := "version: 1\nproperties:\n  - prop: 0x1100\n    type: STRING\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write schema file: %v", err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of a missing file should fail")
	}
}
