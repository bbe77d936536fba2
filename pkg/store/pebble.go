package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hazyhaar/brandmig/pkg/brand"
)

func init() {
	Register("pebble", openPebble)
}

// PebbleCollection stores each document as a JSON envelope under
// "doc/<collection>/<id>". The envelope carries an insertion sequence so that
// FindAll can return documents in the order they were written.
type PebbleCollection struct {
	db        *pebble.DB
	prefix    []byte
	validator *brand.Validator
	opts      Options
	nextSeq   uint64
}

var _ Collection = (*PebbleCollection)(nil)

type pebbleEnvelope struct {
	Seq       uint64         `json:"seq"`
	Fields    map[string]any `json:"fields"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

func (e pebbleEnvelope) document(id string) Document {
	return Document{
		ID:        id,
		Fields:    e.Fields,
		CreatedAt: time.UnixMilli(e.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(e.UpdatedAt).UTC(),
	}
}

func openPebble(_ context.Context, u *url.URL, opts Options) (Collection, error) {
	return OpenPebble(uriPath(u), opts)
}

// OpenPebble opens (or creates) a Pebble database in dir.
func OpenPebble(dir string, opts Options) (*PebbleCollection, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("open pebble store: empty directory")
	}

	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}

	p := &PebbleCollection{
		db:        db,
		prefix:    []byte("doc/" + opts.Collection + "/"),
		validator: opts.Validator,
		opts:      opts,
	}

	// Resume the sequence after the highest one already stored.
	err = p.scan(func(_ string, env pebbleEnvelope) error {
		if env.Seq >= p.nextSeq {
			p.nextSeq = env.Seq + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close flushes and closes the Pebble database.
func (p *PebbleCollection) Close() error {
	return p.db.Close()
}

func (p *PebbleCollection) key(id string) []byte {
	k := make([]byte, 0, len(p.prefix)+len(id))
	k = append(k, p.prefix...)
	return append(k, id...)
}

// upperBound returns the smallest key greater than every key with the prefix.
func (p *PebbleCollection) upperBound() []byte {
	end := append([]byte(nil), p.prefix...)
	end[len(end)-1]++
	return end
}

func (p *PebbleCollection) scan(fn func(id string, env pebbleEnvelope) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: p.prefix, UpperBound: p.upperBound()})
	if err != nil {
		return fmt.Errorf("pebble iterator: %w", err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		id := string(it.Key()[len(p.prefix):])
		var env pebbleEnvelope
		if err := json.Unmarshal(it.Value(), &env); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
		if err := fn(id, env); err != nil {
			return err
		}
	}
	return it.Error()
}

func (p *PebbleCollection) get(id string) (pebbleEnvelope, error) {
	v, closer, err := p.db.Get(p.key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return pebbleEnvelope{}, ErrNotFound
	}
	if err != nil {
		return pebbleEnvelope{}, fmt.Errorf("get %s: %w", id, err)
	}
	defer closer.Close()

	var env pebbleEnvelope
	if err := json.Unmarshal(v, &env); err != nil {
		return pebbleEnvelope{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return env, nil
}

// Clear deletes every document of the collection in one synced batch.
func (p *PebbleCollection) Clear(ctx context.Context) (int64, error) {
	var keys [][]byte
	err := p.scan(func(id string, _ pebbleEnvelope) error {
		keys = append(keys, p.key(id))
		return ctx.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	b := p.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return 0, fmt.Errorf("clear: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	return int64(len(keys)), nil
}

// InsertMany writes documents in one synced batch and stamps their timestamps.
func (p *PebbleCollection) InsertMany(ctx context.Context, docs []Document) error {
	if err := checkIDs(docs); err != nil {
		return err
	}
	now := p.opts.now()
	for i := range docs {
		docs[i].CreatedAt, docs[i].UpdatedAt = now, now
	}
	return p.insert(ctx, docs)
}

// InsertCanonical validates every record, then inserts them under new ids.
func (p *PebbleCollection) InsertCanonical(ctx context.Context, recs []brand.Record) ([]Document, error) {
	if err := validateAll(p.validator, recs); err != nil {
		return nil, err
	}
	now := p.opts.now()
	docs := make([]Document, len(recs))
	for i, rec := range recs {
		docs[i] = Document{ID: NewID(), Fields: rec.Fields(), CreatedAt: now, UpdatedAt: now}
	}
	if err := p.insert(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (p *PebbleCollection) insert(ctx context.Context, docs []Document) error {
	b := p.db.NewBatch()
	defer b.Close()

	seq := p.nextSeq
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.get(d.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		body, err := json.Marshal(pebbleEnvelope{
			Seq:       seq,
			Fields:    copyFields(d.Fields),
			CreatedAt: d.CreatedAt.UnixMilli(),
			UpdatedAt: d.UpdatedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
		if err := b.Set(p.key(d.ID), body, nil); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
		seq++
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	p.nextSeq = seq
	return nil
}

// FindAll returns every document ordered by insertion sequence.
func (p *PebbleCollection) FindAll(ctx context.Context) ([]Document, error) {
	type entry struct {
		seq uint64
		doc Document
	}
	var entries []entry
	err := p.scan(func(id string, env pebbleEnvelope) error {
		entries = append(entries, entry{seq: env.Seq, doc: env.document(id)})
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return docs, nil
}

// ReplaceCanonical validates rec and overwrites the fields of document id,
// keeping its sequence and creation time.
func (p *PebbleCollection) ReplaceCanonical(_ context.Context, id string, rec brand.Record) error {
	if err := validateOne(p.validator, id, rec); err != nil {
		return err
	}

	env, err := p.get(id)
	if err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}
	env.Fields = rec.Fields()
	env.UpdatedAt = p.opts.now().UnixMilli()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	if err := p.db.Set(p.key(id), body, pebble.Sync); err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}
	return nil
}
