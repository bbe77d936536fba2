package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMongoDatabase(t *testing.T) {
	name, err := mongoDatabase("mongodb://localhost:27017/shop", "brandsdb")
	require.NoError(t, err)
	assert.Equal(t, "shop", name)

	name, err = mongoDatabase("mongodb://localhost:27017/?retryWrites=true", "brandsdb")
	require.NoError(t, err)
	assert.Equal(t, "brandsdb", name)

	_, err = mongoDatabase("mongodb://localhost:27017", "")
	require.Error(t, err)
}

func TestJSONSchema(t *testing.T) {
	schema := JSONSchema(testYear)["$jsonSchema"].(bson.M)
	assert.ElementsMatch(t,
		bson.A{"brandName", "yearFounded", "headquarters", "numberOfLocations"},
		schema["required"])

	props := schema["properties"].(bson.M)
	year := props["yearFounded"].(bson.M)
	assert.Equal(t, 1600, year["minimum"])
	assert.Equal(t, testYear, year["maximum"])
	assert.Equal(t, 1, props["numberOfLocations"].(bson.M)["minimum"])
}

func TestMongoID(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	oid, ok := mongoID(hex).(primitive.ObjectID)
	require.True(t, ok)
	assert.Equal(t, hex, oid.Hex())
	assert.Equal(t, "brand-1", mongoID("brand-1"))
}

func TestDecodeMongo(t *testing.T) {
	oid := primitive.NewObjectID()
	created := primitive.NewDateTimeFromTime(fixedNow)
	doc := decodeMongo(bson.M{
		"_id":       oid,
		"_seq":      int64(4),
		"createdAt": created,
		"updatedAt": created,
		"brandName": "Acme",
	})
	assert.Equal(t, oid.Hex(), doc.ID)
	assert.Equal(t, map[string]any{"brandName": "Acme"}, doc.Fields)
	assert.True(t, doc.CreatedAt.Equal(created.Time()))
}
