package sales

import (
	"context"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Replies to a confirmation question.
const (
	ConfirmQuestion  = "Do you want to save this sales record? (yes/no)"
	SavedMessage     = "Sales record has been saved successfully."
	CancelledMessage = "Sales Recording process has been cancelled."
)

// affirmative lists the replies that confirm a pending sale.
var affirmative = map[string]bool{
	"yes": true, "y": true, "confirm": true, "ok": true,
	"sure": true, "yeah": true, "yep": true, "save": true,
}

// IsAffirmative reports whether reply confirms a pending sale. Only the
// first word counts, so "yes, save it" confirms and "no thanks" does not.
func IsAffirmative(reply string) bool {
	fields := strings.Fields(strings.ToLower(reply))
	if len(fields) == 0 {
		return false
	}
	return affirmative[strings.Trim(fields[0], ".,!?;:'\"")]
}

// Inserter stores a document and returns its id. *dataaccess.Access
// implements it.
type Inserter interface {
	Insert(ctx context.Context, collection string, doc any) (string, error)
}

// Recorder commits confirmed sales.
type Recorder struct {
	store      Inserter
	collection string
	clock      clockwork.Clock
}

// NewRecorder creates a Recorder writing to collection. A nil clock uses
// the real clock.
func NewRecorder(store Inserter, collection string, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{store: store, collection: collection, clock: clock}
}

// Record validates and inserts sale. A missing sale date is set to now.
func (r *Recorder) Record(ctx context.Context, sale *Sale) (string, error) {
	if err := sale.Validate(); err != nil {
		return "", err
	}
	s := *sale
	if s.SaleDate.IsZero() {
		s.SaleDate = Timestamp{Time: r.clock.Now().UTC()}
	}
	doc, err := s.Document()
	if err != nil {
		return "", err
	}
	return r.store.Insert(ctx, r.collection, doc)
}
