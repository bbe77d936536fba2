package store

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
)

const testYear = 2024

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func testOptions() Options {
	return Options{
		Database:   "brandsdb",
		Collection: "brands",
		Validator:  brand.NewValidator(testYear),
		Now:        func() time.Time { return fixedNow },
	}
}

func dirtyDocs() []Document {
	return []Document{
		{ID: "aaaaaaaaaaaaaaaaaaaaaaa1", Fields: map[string]any{"brandName": "Acme", "yearFounded": "1899", "hqAddress": "Paris"}},
		{ID: "aaaaaaaaaaaaaaaaaaaaaaa2", Fields: map[string]any{"name": "Beta", "numberOfLocations": -4}},
		{ID: "aaaaaaaaaaaaaaaaaaaaaaa3", Fields: map[string]any{}},
	}
}

func canonical() brand.Record {
	return brand.Record{BrandName: "Acme", YearFounded: 1990, Headquarters: "Austin, TX", NumberOfLocations: 3}
}

// collectionContract exercises the behavior every backend must share.
func collectionContract(t *testing.T, open func(t *testing.T) Collection) {
	ctx := context.Background()

	t.Run("insert and find keep order", func(t *testing.T) {
		c := open(t)
		docs := dirtyDocs()
		if err := c.InsertMany(ctx, docs); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
		got, err := c.FindAll(ctx)
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		if len(got) != len(docs) {
			t.Fatalf("expected %d documents, got %d", len(docs), len(got))
		}
		for i := range docs {
			if got[i].ID != docs[i].ID {
				t.Fatalf("document %d: expected id %s, got %s", i, docs[i].ID, got[i].ID)
			}
		}
		if got[0].Fields["yearFounded"] != "1899" {
			t.Fatalf("dirty field altered: %v", got[0].Fields["yearFounded"])
		}
		want := fixedNow.Truncate(time.Millisecond)
		if !got[0].CreatedAt.Equal(want) || !got[0].UpdatedAt.Equal(want) {
			t.Fatalf("timestamps: got %v/%v, want %v", got[0].CreatedAt, got[0].UpdatedAt, want)
		}
	})

	t.Run("clear reports deleted count", func(t *testing.T) {
		c := open(t)
		if err := c.InsertMany(ctx, dirtyDocs()); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
		n, err := c.Clear(ctx)
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 deleted, got %d", n)
		}
		got, _ := c.FindAll(ctx)
		if len(got) != 0 {
			t.Fatalf("expected empty collection, got %d", len(got))
		}
		if n, _ := c.Clear(ctx); n != 0 {
			t.Fatalf("second clear deleted %d", n)
		}
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		c := open(t)
		if err := c.InsertMany(ctx, dirtyDocs()[:1]); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
		err := c.InsertMany(ctx, dirtyDocs()[:1])
		if !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("canonical insert validates first", func(t *testing.T) {
		c := open(t)
		bad := canonical()
		bad.YearFounded = testYear + 1
		_, err := c.InsertCanonical(ctx, []brand.Record{canonical(), bad})
		if !errors.Is(err, ErrInvalidRecord) || !errors.Is(err, brand.ErrInvalid) {
			t.Fatalf("expected ErrInvalidRecord wrapping brand.ErrInvalid, got %v", err)
		}
		got, _ := c.FindAll(ctx)
		if len(got) != 0 {
			t.Fatalf("rejected batch wrote %d documents", len(got))
		}

		docs, err := c.InsertCanonical(ctx, []brand.Record{canonical(), canonical()})
		if err != nil {
			t.Fatalf("InsertCanonical: %v", err)
		}
		if len(docs) != 2 || docs[0].ID == docs[1].ID || len(docs[0].ID) != 24 {
			t.Fatalf("unexpected generated ids: %+v", docs)
		}
		got, _ = c.FindAll(ctx)
		rec, err := brand.FromFields(got[1].Fields)
		if err != nil {
			t.Fatalf("FromFields: %v", err)
		}
		if rec != canonical() {
			t.Fatalf("stored %+v, want %+v", rec, canonical())
		}
	})

	t.Run("replace overwrites fields", func(t *testing.T) {
		c := open(t)
		docs := dirtyDocs()
		if err := c.InsertMany(ctx, docs); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
		if err := c.ReplaceCanonical(ctx, docs[0].ID, canonical()); err != nil {
			t.Fatalf("ReplaceCanonical: %v", err)
		}
		got, _ := c.FindAll(ctx)
		if got[0].ID != docs[0].ID {
			t.Fatalf("replace moved the document: first id %s", got[0].ID)
		}
		if _, ok := got[0].Fields["hqAddress"]; ok {
			t.Fatalf("dirty key survived replace: %v", got[0].Fields)
		}
		if _, err := brand.FromFields(got[0].Fields); err != nil {
			t.Fatalf("replaced document not canonical: %v", err)
		}
	})

	t.Run("replace rejects invalid and unknown", func(t *testing.T) {
		c := open(t)
		if err := c.InsertMany(ctx, dirtyDocs()[:1]); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
		bad := canonical()
		bad.Headquarters = "  "
		if err := c.ReplaceCanonical(ctx, dirtyDocs()[0].ID, bad); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
		got, _ := c.FindAll(ctx)
		if got[0].Fields["hqAddress"] != "Paris" {
			t.Fatalf("rejected replace modified document: %v", got[0].Fields)
		}
		if err := c.ReplaceCanonical(ctx, "bbbbbbbbbbbbbbbbbbbbbbbb", canonical()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "redis://localhost", testOptions())
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestOpen_RequiresValidator(t *testing.T) {
	opts := testOptions()
	opts.Validator = nil
	if _, err := Open(context.Background(), "sqlite://:memory:", opts); !errors.Is(err, ErrNoValidator) {
		t.Fatalf("expected ErrNoValidator, got %v", err)
	}
}

func TestOpen_BadCollection(t *testing.T) {
	for _, name := range []string{"", "1brands", "brands; DROP", "a-b"} {
		opts := testOptions()
		opts.Collection = name
		if _, err := Open(context.Background(), "sqlite://:memory:", opts); !errors.Is(err, ErrBadCollection) {
			t.Fatalf("%q: expected ErrBadCollection, got %v", name, err)
		}
	}
}

func TestOpen_SelectsBackendByScheme(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		uri  string
		want string
	}{
		{"sqlite://" + filepath.Join(dir, "a.db"), "*store.SQLiteCollection"},
		{"file:" + filepath.Join(dir, "b.db"), "*store.SQLiteCollection"},
		{"pebble://" + filepath.Join(dir, "pebble"), "*store.PebbleCollection"},
	}
	for _, tt := range tests {
		c, err := Open(context.Background(), tt.uri, testOptions())
		if err != nil {
			t.Fatalf("Open(%s): %v", tt.uri, err)
		}
		got := typeName(c)
		c.Close()
		if got != tt.want {
			t.Fatalf("Open(%s): got %s, want %s", tt.uri, got, tt.want)
		}
	}
}

func typeName(c Collection) string {
	switch c.(type) {
	case *SQLiteCollection:
		return "*store.SQLiteCollection"
	case *PebbleCollection:
		return "*store.PebbleCollection"
	case *MongoCollection:
		return "*store.MongoCollection"
	}
	return "unknown"
}

func TestSchemes(t *testing.T) {
	got := Schemes()
	want := []string{"file", "mongodb", "mongodb+srv", "pebble", "sqlite"}
	if len(got) != len(want) {
		t.Fatalf("Schemes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Schemes() = %v, want %v", got, want)
		}
	}
}

func TestURIPath(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"sqlite://brands.db", "brands.db"},
		{"sqlite://data/brands.db", "data/brands.db"},
		{"sqlite:///var/lib/brands.db", "/var/lib/brands.db"},
		{"sqlite:brands.db", "brands.db"},
		{"pebble:///tmp/brands", "/tmp/brands"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.uri)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.uri, err)
		}
		if got := uriPath(u); got != tt.want {
			t.Errorf("uriPath(%s) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestScheme(t *testing.T) {
	if got := Scheme("MongoDB+SRV://user@cluster/db"); got != "mongodb+srv" {
		t.Fatalf("Scheme = %q", got)
	}
	if got := Scheme("::bad"); got != "" {
		t.Fatalf("Scheme(bad) = %q", got)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		if len(id) != 24 {
			t.Fatalf("id %q is not 24 hex digits", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestCheckIDs(t *testing.T) {
	if err := checkIDs([]Document{{ID: ""}}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if err := checkIDs([]Document{{ID: "x"}, {ID: "x"}}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}
