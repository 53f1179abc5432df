package script

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestParseAcceptsAndNormalizes(t *testing.T) {
	body, err := ParseString(`[ {"id": "imp", "team": "demon"},
		{"id":"chef"} ]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := `[{"id":"imp","team":"demon"},{"id":"chef"}]`
	if body.Text != want {
		t.Fatalf("text = %s, want %s", body.Text, want)
	}
	if len(body.IDs) != 2 || body.IDs[0] != "imp" || body.IDs[1] != "chef" {
		t.Fatalf("ids = %v", body.IDs)
	}
}

func TestParseEmptyArray(t *testing.T) {
	body, err := ParseString("[]")
	if err != nil {
		t.Fatalf("parse []: %v", err)
	}
	if body.Text != "[]" || len(body.IDs) != 0 {
		t.Fatalf("body = %+v", body)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		index int
	}{
		{"object", `{}`, -1},
		{"empty", `   `, -1},
		{"broken", `[{"id":"imp"`, -1},
		{"missing id", `[{"name":"x"}]`, 0},
		{"second missing id", `[{"id":"imp"},{"name":"x"}]`, 1},
		{"empty id", `[{"id":""}]`, 0},
		{"numeric id", `[{"id":7}]`, 0},
		{"scalar entry", `[{"id":"imp"},"chef"]`, 1},
		{"null entry", `[null]`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseString(tc.in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Index != tc.index {
				t.Fatalf("index = %d, want %d (%v)", ve.Index, tc.index, ve)
			}
			if !IsValidation(err) {
				t.Fatalf("IsValidation false")
			}
		})
	}
}

func TestEntryIDValid(t *testing.T) {
	for _, in := range []string{`{"id":"imp"}`, `{"id":"_meta","name":"x"}`, `{"team":"demon","id":"po"}`} {
		id, reason := entryID(json.RawMessage(in))
		if reason != "" || id == "" {
			t.Fatalf("entryID(%s) = %q, %q", in, id, reason)
		}
	}
}

func TestParseMetaEntryPasses(t *testing.T) {
	if _, err := ParseString(`[{"id":"_meta","name":"Custom"},{"id":"imp"}]`); err != nil {
		t.Fatalf("meta entry rejected: %v", err)
	}
}

func TestHash(t *testing.T) {
	if got := Hash(""); got != "0" {
		t.Fatalf("empty hash = %q", got)
	}
	// "a" = 97, "ab" = 97*31+98
	if got := Hash("ab"); got != "c21" {
		t.Fatalf("hash(ab) = %q", got)
	}
	long := strings.Repeat(`{"id":"imp"},`, 1000)
	if Hash(long) == Hash(long+" ") {
		t.Fatalf("hash did not change")
	}
	if Hash("ab") == Hash("ba") {
		t.Fatalf("hash should be order dependent")
	}
}

func TestHashSurrogatePairs(t *testing.T) {
	// U+1F319 encodes as D83C DF19 in UTF-16.
	var h int32
	h = h*31 + 0xD83C
	h = h*31 + 0xDF19
	want := strconv.FormatUint(uint64(uint32(h)), 16)
	if got := Hash("\U0001F319"); got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
}

func TestLibraryEmbeddedDefault(t *testing.T) {
	lib := NewLibrary("")
	body, err := lib.Load(DefaultName)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if body.Text != Default().Text {
		t.Fatalf("embedded default mismatch")
	}
	names, err := lib.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) == 0 || names[len(names)-1] != DefaultName {
		t.Fatalf("names = %v", names)
	}
}

func TestLibraryDirShadowsEmbedded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultName), []byte(`[{"id":"imp"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sects_and_violets.json"), []byte(`[{"id":"vortox"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := NewLibrary(dir)
	body, err := lib.Load(DefaultName)
	if err != nil || body.Text != `[{"id":"imp"}]` {
		t.Fatalf("load = %+v, %v", body, err)
	}
	names, _ := lib.List()
	if strings.Join(names, ",") != "sects_and_violets.json,trouble_brewing.json" {
		t.Fatalf("names = %v", names)
	}
}

func TestLibraryIndexFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scripts.json"), []byte(`["bad_moon_rising.json","../etc.json"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	names, err := NewLibrary(dir).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "bad_moon_rising.json,trouble_brewing.json" {
		t.Fatalf("names = %v", names)
	}
}

func TestLibraryRejectsBadNames(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	for _, name := range []string{"", "../secret.json", "a/b.json", "notes.txt", "scripts.json"} {
		if _, err := lib.Load(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("%q: err = %v", name, err)
		}
	}
	if _, err := lib.Load("missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: err = %v", err)
	}
}
