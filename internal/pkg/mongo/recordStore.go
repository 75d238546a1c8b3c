package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecordStore persists recordings in mongo db
type RecordStore struct {
	SessionProvider *SessionProvider
}

// NewRecordStore creates RecordStore instance
func NewRecordStore(sessionProvider *SessionProvider) (*RecordStore, error) {
	f := RecordStore{SessionProvider: sessionProvider}
	return &f, nil
}

// Insert saves a new recording
func (rs *RecordStore) Insert(r *persistence.Recording) error {
	cmdapp.Log.Infof("Saving recording %s", r.ID)

	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return err
	}
	defer cancel()

	_, err = c.InsertOne(ctx, r)
	if err != nil {
		return errs.NewStorage(errors.Wrap(err, "Can't insert recording"))
	}
	return nil
}

// Get retrieves recording by ID
func (rs *RecordStore) Get(id string) (*persistence.Recording, error) {
	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return nil, err
	}
	defer cancel()

	var res persistence.Recording
	err = c.FindOne(ctx, bson.M{"ID": sanitize(id)}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.NewStorage(errors.Wrap(err, "Can't get recording"))
	}
	return &res, nil
}

// List returns all recordings, newest first
func (rs *RecordStore) List() ([]persistence.Recording, error) {
	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return nil, err
	}
	defer cancel()

	cursor, err := c.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, errs.NewStorage(errors.Wrap(err, "Can't list recordings"))
	}
	defer cursor.Close(ctx)
	res := make([]persistence.Recording, 0)
	if err := cursor.All(ctx, &res); err != nil {
		return nil, errs.NewStorage(errors.Wrap(err, "Can't read recordings"))
	}
	return res, nil
}

// Delete removes recording by ID
func (rs *RecordStore) Delete(id string) error {
	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return err
	}
	defer cancel()

	res, err := c.DeleteOne(ctx, bson.M{"ID": sanitize(id)})
	if err != nil {
		return errs.NewStorage(errors.Wrap(err, "Can't delete recording"))
	}
	if res.DeletedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Update applies a partial field update to the recording
func (rs *RecordStore) Update(id string, fields map[string]interface{}) error {
	return rs.update(bson.M{"ID": sanitize(id)}, id, fields, nil)
}

// UpdateWhereStatus applies a partial update only if the current status is one
// of the allowed values. The read-check-write is a single atomic operation, so
// concurrent pipeline steps can not interleave writes inconsistently.
// Optional processing errors are appended, never overwritten
func (rs *RecordStore) UpdateWhereStatus(id string, from []status.Status, fields map[string]interface{},
	procErrs ...persistence.ProcessingError) error {
	sts := make([]string, 0, len(from))
	for _, st := range from {
		sts = append(sts, status.Name(st))
	}
	return rs.update(bson.M{"ID": sanitize(id), "status": bson.M{"$in": sts}}, id, fields, procErrs)
}

// AppendError appends one processing error record
func (rs *RecordStore) AppendError(id string, msg string) error {
	return rs.update(bson.M{"ID": sanitize(id)}, id, nil,
		[]persistence.ProcessingError{{Message: msg, At: time.Now()}})
}

// FindDuplicate implements the duplicate submission guard: a recording with
// the same file name, meeting date, subject and category, or one with the
// same file name created after windowStart. A loose heuristic by design -
// legitimate same-named re-uploads within the window match too
func (rs *RecordStore) FindDuplicate(fileName, subjectName, subjectCategory string,
	meetingDate time.Time, windowStart time.Time) (*persistence.Recording, error) {
	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return nil, err
	}
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"originalFileName": fileName, "meetingDate": meetingDate,
			"subjectName": subjectName, "subjectCategory": subjectCategory},
		bson.M{"originalFileName": fileName, "createdAt": bson.M{"$gte": windowStart}},
	}}
	var res persistence.Recording
	err = c.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewStorage(errors.Wrap(err, "Can't query duplicates"))
	}
	return &res, nil
}

func (rs *RecordStore) update(filter bson.M, id string, fields map[string]interface{},
	procErrs []persistence.ProcessingError) error {
	c, ctx, cancel, err := rs.collection()
	if err != nil {
		return err
	}
	defer cancel()

	set := bson.M{persistence.FlUpdatedAt: time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	update := bson.M{"$set": set}
	if len(procErrs) > 0 {
		update["$push"] = bson.M{"processingErrors": bson.M{"$each": procErrs}}
	}

	err = c.FindOneAndUpdate(ctx, filter, update).Err()
	if err == mongo.ErrNoDocuments {
		return rs.explainNoMatch(id, filter)
	}
	if err != nil {
		return errs.NewStorage(errors.Wrap(err, "Can't update recording"))
	}
	return nil
}

// explainNoMatch maps a failed conditional update to NotFound or precondition failure
func (rs *RecordStore) explainNoMatch(id string, filter bson.M) error {
	if _, ok := filter["status"]; !ok {
		return errs.ErrNotFound
	}
	cur, err := rs.Get(id)
	if err != nil {
		return err
	}
	return errs.NewPrecondition("wrong status '%s' for recording %s", cur.Status, id)
}

func (rs *RecordStore) collection() (*mongo.Collection, context.Context, context.CancelFunc, error) {
	client, err := rs.SessionProvider.Client()
	if err != nil {
		return nil, nil, nil, errs.NewStorage(err)
	}
	ctx, cancel := mongoContext()
	return client.Database(store).Collection(recordingTable), ctx, cancel, nil
}

// sanitize drops characters with a special meaning in mongo queries
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '$' || r == '{' || r == '}' {
			return -1
		}
		return r
	}, s)
}
