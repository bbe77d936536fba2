package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("mongodb", openMongo)
	Register("mongodb+srv", openMongo)
}

// Reserved document keys maintained by MongoCollection.
const (
	mongoIDKey      = "_id"
	mongoSeqKey     = "_seq"
	mongoCreatedKey = "createdAt"
	mongoUpdatedKey = "updatedAt"

	codeDocumentValidationFailure = 121
)

// MongoCollection is a MongoDB collection guarded by a $jsonSchema validator.
// Dirty documents are inserted with document validation bypassed; canonical
// writes are checked both here and by the server.
type MongoCollection struct {
	client    *mongo.Client
	coll      *mongo.Collection
	validator *brand.Validator
	opts      Options
	nextSeq   int64
}

var _ Collection = (*MongoCollection)(nil)

func openMongo(ctx context.Context, u *url.URL, opts Options) (Collection, error) {
	return OpenMongo(ctx, u.String(), opts)
}

// OpenMongo connects to uri, pings the server and installs the collection
// validator. The database named in the URI path takes precedence over
// opts.Database.
func OpenMongo(ctx context.Context, uri string, opts Options) (*MongoCollection, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}

	dbName, err := mongoDatabase(uri, opts.Database)
	if err != nil {
		return nil, err
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	clientOpts := options.Client().ApplyURI(uri)
	if opts.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	if err := ensureMongoValidator(ctx, db, opts.Collection, opts.Validator.CurrentYear()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	m := &MongoCollection{
		client:    client,
		coll:      db.Collection(opts.Collection),
		validator: opts.Validator,
		opts:      opts,
	}
	if m.nextSeq, err = m.lastSeq(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func mongoDatabase(uri, fallback string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse mongodb uri: %w", err)
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name, nil
	}
	if fallback == "" {
		return "", fmt.Errorf("mongodb uri %q names no database and none is configured", u.Redacted())
	}
	return fallback, nil
}

// JSONSchema is the server-side validator for canonical brand documents.
func JSONSchema(currentYear int) bson.M {
	text := bson.M{"bsonType": "string", "pattern": `\S`}
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{
			brand.FieldBrandName, brand.FieldYearFounded,
			brand.FieldHeadquarters, brand.FieldNumberOfLocations,
		},
		"properties": bson.M{
			brand.FieldBrandName: text,
			brand.FieldYearFounded: bson.M{
				"bsonType": bson.A{"int", "long"},
				"minimum":  brand.MinYearFounded,
				"maximum":  currentYear,
			},
			brand.FieldHeadquarters: text,
			brand.FieldNumberOfLocations: bson.M{
				"bsonType": bson.A{"int", "long"},
				"minimum":  brand.MinNumberOfLocations,
			},
		},
	}}
}

func ensureMongoValidator(ctx context.Context, db *mongo.Database, name string, currentYear int) error {
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	schema := JSONSchema(currentYear)
	if len(names) == 0 {
		opts := options.CreateCollection().
			SetValidator(schema).
			SetValidationLevel("strict").
			SetValidationAction("error")
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		return nil
	}

	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: schema},
		{Key: "validationLevel", Value: "strict"},
		{Key: "validationAction", Value: "error"},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("update validator on %s: %w", name, err)
	}
	return nil
}

func (m *MongoCollection) lastSeq(ctx context.Context) (int64, error) {
	var last struct {
		Seq int64 `bson:"_seq"`
	}
	err := m.coll.FindOne(ctx, bson.D{},
		options.FindOne().SetSort(bson.D{{Key: mongoSeqKey, Value: -1}}).SetProjection(bson.D{{Key: mongoSeqKey, Value: 1}}),
	).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	return last.Seq + 1, nil
}

// Close disconnects the client.
func (m *MongoCollection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Clear deletes every document in the collection.
func (m *MongoCollection) Clear(ctx context.Context) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", m.coll.Name(), err)
	}
	return res.DeletedCount, nil
}

// InsertMany inserts documents as given, bypassing the schema validator, and
// stamps their timestamps.
func (m *MongoCollection) InsertMany(ctx context.Context, docs []Document) error {
	if err := checkIDs(docs); err != nil {
		return err
	}
	now := m.opts.now()
	for i := range docs {
		docs[i].CreatedAt, docs[i].UpdatedAt = now, now
	}
	return m.insert(ctx, docs, true)
}

// InsertCanonical validates every record, then inserts them under new ids with
// server-side validation enabled.
func (m *MongoCollection) InsertCanonical(ctx context.Context, recs []brand.Record) ([]Document, error) {
	if err := validateAll(m.validator, recs); err != nil {
		return nil, err
	}
	now := m.opts.now()
	docs := make([]Document, len(recs))
	for i, rec := range recs {
		docs[i] = Document{ID: NewID(), Fields: rec.Fields(), CreatedAt: now, UpdatedAt: now}
	}
	if err := m.insert(ctx, docs, false); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *MongoCollection) insert(ctx context.Context, docs []Document, bypass bool) error {
	if len(docs) == 0 {
		return nil
	}

	batch := make([]any, len(docs))
	seq := m.nextSeq
	for i, d := range docs {
		batch[i] = m.encode(d, seq)
		seq++
	}

	opts := options.InsertMany().SetOrdered(true)
	if bypass {
		opts.SetBypassDocumentValidation(true)
	}
	if _, err := m.coll.InsertMany(ctx, batch, opts); err != nil {
		return m.writeError("insert", err)
	}
	m.nextSeq = seq
	return nil
}

func (m *MongoCollection) encode(d Document, seq int64) bson.M {
	out := make(bson.M, len(d.Fields)+4)
	for k, v := range d.Fields {
		out[k] = v
	}
	out[mongoIDKey] = mongoID(d.ID)
	out[mongoSeqKey] = seq
	out[mongoCreatedKey] = d.CreatedAt
	out[mongoUpdatedKey] = d.UpdatedAt
	return out
}

// FindAll returns every document ordered by insertion sequence.
func (m *MongoCollection) FindAll(ctx context.Context) ([]Document, error) {
	cur, err := m.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: mongoSeqKey, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find all in %s: %w", m.coll.Name(), err)
	}

	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("read %s: %w", m.coll.Name(), err)
	}

	docs := make([]Document, len(raws))
	for i, raw := range raws {
		docs[i] = decodeMongo(raw)
	}
	return docs, nil
}

func decodeMongo(raw bson.M) Document {
	var d Document
	switch id := raw[mongoIDKey].(type) {
	case primitive.ObjectID:
		d.ID = id.Hex()
	case string:
		d.ID = id
	default:
		d.ID = fmt.Sprint(id)
	}
	if t, ok := raw[mongoCreatedKey].(primitive.DateTime); ok {
		d.CreatedAt = t.Time().UTC()
	}
	if t, ok := raw[mongoUpdatedKey].(primitive.DateTime); ok {
		d.UpdatedAt = t.Time().UTC()
	}

	d.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case mongoIDKey, mongoSeqKey, mongoCreatedKey, mongoUpdatedKey:
			continue
		}
		d.Fields[k] = v
	}
	return d
}

// ReplaceCanonical validates rec and replaces the stored document, keeping its
// sequence and creation time. The server re-validates the replacement.
func (m *MongoCollection) ReplaceCanonical(ctx context.Context, id string, rec brand.Record) error {
	if err := validateOne(m.validator, id, rec); err != nil {
		return err
	}

	filter := bson.D{{Key: mongoIDKey, Value: mongoID(id)}}
	var current struct {
		Seq       int64     `bson:"_seq"`
		CreatedAt time.Time `bson:"createdAt"`
	}
	err := m.coll.FindOne(ctx, filter).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("replace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}

	doc := m.encode(Document{
		ID:        id,
		Fields:    rec.Fields(),
		CreatedAt: current.CreatedAt,
		UpdatedAt: m.opts.now(),
	}, current.Seq)

	res, err := m.coll.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return m.writeError("replace "+id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("replace %s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *MongoCollection) writeError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicateID, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(codeDocumentValidationFailure) {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidRecord, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mongoID stores 24-hex identifiers as ObjectIDs and anything else verbatim.
func mongoID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
