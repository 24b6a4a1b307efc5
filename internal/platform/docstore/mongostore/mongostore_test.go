package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/clinic/clinic/internal/platform/docstore"
)

func TestBuildFilter_Empty(t *testing.T) {
	f := buildFilter(docstore.Query{Collection: "patients", OrderBy: docstore.Order{Field: "createdAt"}, Limit: 7})
	assert.Equal(t, bson.D{}, f)
}

func TestBuildFilter_PrefixRange(t *testing.T) {
	f := buildFilter(docstore.Query{
		Collection: "users",
		OrderBy:    docstore.Order{Field: "name"},
		Where: []docstore.Filter{
			{Field: "role", Op: docstore.OpEqual, Value: "doctor"},
			{Field: "name", Op: docstore.OpGreaterOrEqual, Value: "Ma"},
			{Field: "name", Op: docstore.OpLess, Value: "Ma\uffff"},
		},
		Limit: 6,
	})
	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "role", Value: "doctor"}},
		bson.D{{Key: "name", Value: bson.D{{Key: "$gte", Value: "Ma"}}}},
		bson.D{{Key: "name", Value: bson.D{{Key: "$lt", Value: "Ma\uffff"}}}},
	}}}
	assert.Equal(t, want, f)
}

func TestBuildFilter_KeysetDescending(t *testing.T) {
	after := buildFilter(docstore.Query{
		Collection: "patients",
		OrderBy:    docstore.Order{Field: "createdAt", Descending: true},
		StartAfter: &docstore.Cursor{Value: "2024-05-01", ID: "p9"},
		Limit:      8,
	})
	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: "2024-05-01"}}}},
			bson.D{
				{Key: "createdAt", Value: "2024-05-01"},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: "p9"}}},
			},
		}}},
	}}}
	assert.Equal(t, want, after)

	at := buildFilter(docstore.Query{
		Collection: "patients",
		OrderBy:    docstore.Order{Field: "createdAt", Descending: true},
		StartAt:    &docstore.Cursor{Value: "2024-05-01", ID: "p9"},
		Limit:      8,
	})
	or := at[0].Value.(bson.A)[0].(bson.D)[0].Value.(bson.A)
	tie := or[1].(bson.D)
	assert.Equal(t, bson.D{{Key: "$lte", Value: "p9"}}, tie[1].Value)
}

func TestBuildSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}, buildSort(docstore.Order{Field: "name"}))
	assert.Equal(t, bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}}, buildSort(docstore.Order{Field: "date", Descending: true}))
}

func TestToChangeEvent(t *testing.T) {
	token, err := bson.Marshal(bson.D{{Key: "_data", Value: "8265A1"}})
	require.NoError(t, err)

	ce := changeEvent{
		ID:                       bson.Raw(token),
		FullDocument:             bson.M{"_id": "a1", "status": "completed", "patientId": "p1"},
		FullDocumentBeforeChange: bson.M{"_id": "a1", "status": "scheduled"},
	}
	ce.DocumentKey.ID = "a1"

	ev := toChangeEvent("appointments", ce)
	assert.Equal(t, "8265A1", ev.ID)
	assert.Equal(t, "a1", ev.DocumentID)
	require.NotNil(t, ev.Before)
	require.NotNil(t, ev.After)
	assert.Equal(t, "scheduled", ev.Before.String("status"))
	assert.Equal(t, "p1", ev.After.String("patientId"))
	assert.NotContains(t, ev.After.Fields, "_id")
}

func TestFromBSON_Int32Counter(t *testing.T) {
	d := fromBSON(bson.M{"_id": "p1", "therapiesSinceConsult": int32(4)})
	assert.Equal(t, "p1", d.ID)
	assert.Equal(t, int64(4), d.Int("therapiesSinceConsult"))
}
