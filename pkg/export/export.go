// Package export writes the final collection contents as structured text.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	"github.com/hazyhaar/brandmig/pkg/store"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for an export format other than json or yaml.
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath picks YAML for .yaml and .yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Entry is one exported document.
type Entry struct {
	ID           string `json:"_id" yaml:"_id"`
	brand.Record `yaml:",inline"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Entries converts stored documents to export entries. Every document must
// already be canonical.
func Entries(docs []store.Document) ([]Entry, error) {
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		rec, err := brand.FromFields(d.Fields)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", d.ID, err)
		}
		entries = append(entries, Entry{ID: d.ID, Record: rec, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	}
	return entries, nil
}

// Encode writes v to w in the given format. JSON is indented by two spaces.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Write exports docs to path on fs and returns how many were written. Nothing
// is written when a document is not canonical.
func Write(fs afero.Fs, path string, format Format, docs []store.Document) (int, error) {
	entries, err := Entries(docs)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, format, entries); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(entries), nil
}
