// Package store provides the brand document collection and its backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store errors.
var (
	ErrNotFound      = errors.New("document not found")
	ErrDuplicateID   = errors.New("duplicate document id")
	ErrUnknownScheme = errors.New("unknown store scheme")
	ErrInvalidRecord = errors.New("record rejected by store validation")
	ErrMissingID     = errors.New("document has no id")
	ErrBadCollection = errors.New("invalid collection name")
	ErrNoValidator   = errors.New("store opened without a validator")
)

// Document is one stored record: its identifier, its current field set and
// the timestamps the store maintains.
type Document struct {
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Raw exposes the document fields to the normalizer.
func (d Document) Raw() brand.Raw {
	return brand.Raw(d.Fields)
}

// Collection is a document collection holding brand records.
//
// Canonical writes (InsertCanonical, ReplaceCanonical) are validated before
// anything is written. InsertMany stores documents as given.
type Collection interface {
	// Clear removes every document and returns how many were deleted.
	Clear(ctx context.Context) (int64, error)
	// InsertMany stores documents under their own ids.
	InsertMany(ctx context.Context, docs []Document) error
	// InsertCanonical stores validated records under freshly generated ids.
	InsertCanonical(ctx context.Context, recs []brand.Record) ([]Document, error)
	// FindAll returns every document in insertion order.
	FindAll(ctx context.Context) ([]Document, error)
	// ReplaceCanonical replaces the fields of document id with rec.
	ReplaceCanonical(ctx context.Context, id string, rec brand.Record) error
	// Close releases the connection.
	Close() error
}

// Options configures a backend when it is opened.
type Options struct {
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	Validator      *brand.Validator
	Now            func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC().Truncate(time.Millisecond)
	}
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (o Options) check() error {
	if o.Validator == nil {
		return ErrNoValidator
	}
	if !validCollectionName(o.Collection) {
		return fmt.Errorf("%w: %q", ErrBadCollection, o.Collection)
	}
	return nil
}

func validCollectionName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Opener opens a collection for a parsed store URI.
type Opener func(ctx context.Context, u *url.URL, opts Options) (Collection, error)

var (
	registryMu sync.RWMutex
	openers    = make(map[string]Opener)
)

// Register makes a backend available under a URI scheme.
func Register(scheme string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	openers[strings.ToLower(scheme)] = open
}

// Schemes returns the registered URI schemes, sorted.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]string, 0, len(openers))
	for s := range openers {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// Open connects to the collection described by uri. The URI scheme selects the
// backend, e.g. sqlite://brands.db, pebble:///var/lib/brands or mongodb://host.
func Open(ctx context.Context, uri string, opts Options) (Collection, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse store uri: %w", err)
	}

	registryMu.RLock()
	open, ok := openers[strings.ToLower(u.Scheme)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownScheme, u.Scheme, strings.Join(Schemes(), ", "))
	}
	return open(ctx, u, opts)
}

// Scheme returns the scheme part of a store URI, for display.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// uriPath extracts a filesystem path from sqlite:// and pebble:// URIs.
// Both scheme://relative/path and scheme:///absolute/path are accepted, as is
// the opaque form scheme:path.
func uriPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}

// NewID returns a fresh 24-hex-digit document identifier.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// validateAll runs the store-side validation pass for canonical writes.
func validateAll(v *brand.Validator, recs []brand.Record) error {
	if err := v.ValidateAll(recs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

func validateOne(v *brand.Validator, id string, rec brand.Record) error {
	if err := v.Validate(rec); err != nil {
		return fmt.Errorf("replace %s: %w: %w", id, ErrInvalidRecord, err)
	}
	return nil
}

func checkIDs(docs []Document) error {
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document %d", ErrMissingID, i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
