package sales_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/randalmurphal/insightgraph/pkg/sales"
)

type fakeInserter struct {
	collection string
	doc        any
	err        error
}

func (f *fakeInserter) Insert(_ context.Context, collection string, doc any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.collection = collection
	f.doc = doc
	return "id-1", nil
}

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"yes", true},
		{"Yes, save it", true},
		{"  OK!", true},
		{"y", true},
		{"sure thing", true},
		{"no", false},
		{"no, yes", false},
		{"cancel", false},
		{"", false},
		{"maybe yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			assert.Equal(t, tt.want, sales.IsAffirmative(tt.reply))
		})
	}
}

func TestRecorder_Record(t *testing.T) {
	store := &fakeInserter{}
	rec := sales.NewRecorder(store, "sales", clockwork.NewFakeClockAt(today))

	s := validSale()
	id, err := rec.Record(context.Background(), &s)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, "sales", store.collection)

	doc, ok := store.doc.(bson.D)
	require.True(t, ok)
	assert.Equal(t, today, doc.Map()["saleDate"])
	assert.True(t, s.SaleDate.IsZero(), "caller's sale is not modified")
}

func TestRecorder_KeepsSaleDate(t *testing.T) {
	store := &fakeInserter{}
	rec := sales.NewRecorder(store, "sales", clockwork.NewFakeClockAt(today))

	s := validSale()
	when := time.Date(2023, 12, 24, 9, 0, 0, 0, time.UTC)
	s.SaleDate = sales.Timestamp{Time: when}
	_, err := rec.Record(context.Background(), &s)
	require.NoError(t, err)
	assert.Equal(t, when, store.doc.(bson.D).Map()["saleDate"])
}

func TestRecorder_Errors(t *testing.T) {
	s := validSale()
	s.Items = nil
	_, err := sales.NewRecorder(&fakeInserter{}, "sales", nil).Record(context.Background(), &s)
	assert.ErrorIs(t, err, sales.ErrInvalidSale)

	boom := errors.New("write concern")
	s = validSale()
	_, err = sales.NewRecorder(&fakeInserter{err: boom}, "sales", nil).Record(context.Background(), &s)
	assert.ErrorIs(t, err, boom)
}
