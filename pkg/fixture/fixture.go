// Package fixture loads the dirty brand documents that seed a migration run.
//
// A fixture is a JSON array of objects. Each object carries its identifier in
// "_id", either as MongoDB Extended JSON ({"$oid": "..."}) or as a plain
// string. Every other key is kept verbatim, whatever its shape.
package fixture

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/brandmig/pkg/store"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// Fixture errors.
var (
	ErrMalformed   = errors.New("malformed fixture")
	ErrMissingID   = errors.New("fixture document has no _id")
	ErrDuplicateID = errors.New("duplicate _id in fixture")
)

const idKey = "_id"

// Load reads the fixture at path from fs.
func Load(fs afero.Fs, path string) ([]store.Document, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	docs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// Parse decodes fixture bytes, keeping document order.
func Parse(data []byte) ([]store.Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: top level is %s, want an array", ErrMalformed, root.Type)
	}

	var (
		docs []store.Document
		seen = make(map[string]int)
		err  error
	)
	root.ForEach(func(_, elem gjson.Result) bool {
		i := len(docs)
		if !elem.IsObject() {
			err = fmt.Errorf("%w: document %d is not an object", ErrMalformed, i)
			return false
		}

		id := documentID(elem.Get(idKey))
		if id == "" {
			err = fmt.Errorf("%w: document %d", ErrMissingID, i)
			return false
		}
		if prev, dup := seen[id]; dup {
			err = fmt.Errorf("%w: %s (documents %d and %d)", ErrDuplicateID, id, prev, i)
			return false
		}
		seen[id] = i

		fields, _ := elem.Value().(map[string]any)
		delete(fields, idKey)
		docs = append(docs, store.Document{ID: id, Fields: fields})
		return true
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func documentID(r gjson.Result) string {
	switch {
	case r.IsObject():
		if oid := r.Map()["$oid"]; oid.Type == gjson.String {
			return oid.Str
		}
	case r.Type == gjson.String:
		return r.Str
	}
	return ""
}
