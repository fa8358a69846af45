package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/characterhub/api/internal/model"
)

const completedJobTTL = 7 * 24 * time.Hour

// Mongo bundles the Mongo-backed implementations of JobStore, CharacterStore
// and MediaStore over one database.
type Mongo struct {
	jobs       *mongo.Collection
	characters *mongo.Collection
	profiles   *mongo.Collection
	stats      *mongo.Collection
	media      *mongo.Collection
}

// NewMongo connects to the given URI and prepares collections and indexes.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		jobs:       db.Collection("jobs"),
		characters: db.Collection("characters"),
		profiles:   db.Collection("character_profiles"),
		stats:      db.Collection("character_stats"),
		media:      db.Collection("character_media"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "jobId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			// Storage hygiene: purge completed jobs after the retention
			// window. Failed and cancelled records are kept.
			Keys: bson.D{{Key: "completedAt", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(completedJobTTL / time.Second)).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: string(model.JobStatusCompleted)}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}

	_, err = m.media.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "characterId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create media indexes: %w", err)
	}
	return nil
}

// --- JobStore ---

func (m *Mongo) Create(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if _, err := m.jobs.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	err := m.jobs.FindOne(ctx, bson.D{{Key: "jobId", Value: jobID}}).Decode(&job)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &job, nil
}

func (m *Mongo) ListByOwner(ctx context.Context, ownerID string, f JobFilter) ([]model.Job, int64, error) {
	filter := bson.D{{Key: "ownerId", Value: ownerID}}
	if f.Kind != "" {
		filter = append(filter, bson.E{Key: "kind", Value: f.Kind})
	} else if len(f.Kinds) > 0 {
		filter = append(filter, bson.E{Key: "kind", Value: bson.D{{Key: "$in", Value: f.Kinds}}})
	}
	if f.MediaType != "" {
		filter = append(filter, bson.E{Key: "type", Value: f.MediaType})
	}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: f.Status})
	}

	total, err := m.jobs.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	cur, err := m.jobs.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(f.Skip)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	var jobs []model.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, total, nil
}

// transition runs a conditional update restricted to fromStatuses and returns
// the updated record. ErrTerminal is reported when the job exists but is no
// longer in an eligible state.
func (m *Mongo) transition(ctx context.Context, jobID string, fromStatuses []model.JobStatus, update bson.D) (*model.Job, error) {
	from := make([]string, len(fromStatuses))
	for i, s := range fromStatuses {
		from[i] = string(s)
	}
	filter := bson.D{
		{Key: "jobId", Value: jobID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: from}}},
	}

	var job model.Job
	err := m.jobs.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&job)
	if err == nil {
		return &job, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to transition job %s: %w", jobID, err)
	}
	// Distinguish missing from terminal.
	if _, getErr := m.Get(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrTerminal
}

func (m *Mongo) MarkActive(ctx context.Context, jobID string) (*model.Job, error) {
	now := time.Now().UTC()
	job, err := m.transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: model.JobStatusActive},
				{Key: "progress", Value: 0},
			}},
			{Key: "$inc", Value: bson.D{{Key: "attemptsMade", Value: 1}}},
		})
	if err != nil {
		return nil, err
	}
	if job.StartedAt == nil {
		job, err = m.transition(ctx, jobID,
			[]model.JobStatus{model.JobStatusActive},
			bson.D{{Key: "$set", Value: bson.D{{Key: "startedAt", Value: now}}}})
		if err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (m *Mongo) SetProgress(ctx context.Context, jobID string, progress int) error {
	filter := bson.D{
		{Key: "jobId", Value: jobID},
		{Key: "status", Value: model.JobStatusActive},
		{Key: "progress", Value: bson.D{{Key: "$lte", Value: progress}}},
	}
	// No match means the job left the active state or already reported a
	// higher value; both are fine.
	_, err := m.jobs.UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "progress", Value: progress}}}})
	if err != nil {
		return fmt.Errorf("failed to update progress for %s: %w", jobID, err)
	}
	return nil
}

func (m *Mongo) Complete(ctx context.Context, jobID string, result *model.JobResult) (*model.Job, error) {
	return m.transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusActive},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.JobStatusCompleted},
			{Key: "progress", Value: 100},
			{Key: "result", Value: result},
			{Key: "completedAt", Value: time.Now().UTC()},
		}}})
}

func (m *Mongo) Fail(ctx context.Context, jobID string, reason string) (*model.Job, error) {
	return m.transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.JobStatusFailed},
			{Key: "result", Value: &model.JobResult{Error: reason}},
			{Key: "failedReason", Value: reason},
			{Key: "completedAt", Value: time.Now().UTC()},
		}}})
}

func (m *Mongo) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	return m.transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.JobStatusCancelled},
			{Key: "completedAt", Value: time.Now().UTC()},
		}}})
}

// --- CharacterStore ---

func (m *Mongo) CreateCharacter(ctx context.Context, ch *model.Character) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.DisplayID == "" {
		ch.DisplayID = displayID(ch.Name)
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.DisplayImageURLs == nil {
		ch.DisplayImageURLs = []string{}
	}
	if _, err := m.characters.InsertOne(ctx, ch); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert character: %w", err)
	}
	return nil
}

func (m *Mongo) GetCharacter(ctx context.Context, id string) (*model.Character, error) {
	var ch model.Character
	err := m.characters.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&ch)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load character %s: %w", id, err)
	}
	return &ch, nil
}

func (m *Mongo) CreateLinkedRecords(ctx context.Context, characterID string, in *model.CharacterInput) error {
	profile := model.CharacterProfile{
		CharacterID: characterID,
		Physical:    in.Physical,
		Personality: in.Personality,
	}
	if _, err := m.profiles.InsertOne(ctx, profile); err != nil {
		return fmt.Errorf("failed to insert character profile: %w", err)
	}
	if _, err := m.stats.InsertOne(ctx, model.CharacterStats{CharacterID: characterID}); err != nil {
		return fmt.Errorf("failed to insert character stats: %w", err)
	}
	return nil
}

func (m *Mongo) GetProfile(ctx context.Context, characterID string) (*model.CharacterProfile, error) {
	var p model.CharacterProfile
	err := m.profiles.FindOne(ctx, bson.D{{Key: "characterId", Value: characterID}}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load profile for %s: %w", characterID, err)
	}
	return &p, nil
}

func (m *Mongo) SavePersonalityDetails(ctx context.Context, characterID, details string) error {
	_, err := m.profiles.UpdateOne(ctx,
		bson.D{{Key: "characterId", Value: characterID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "personalityDetails", Value: details}}}})
	if err != nil {
		return fmt.Errorf("failed to save personality details: %w", err)
	}
	return nil
}

func (m *Mongo) AttachDisplayImage(ctx context.Context, characterID, url string) error {
	_, err := m.characters.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: characterID}},
		bson.D{{Key: "$addToSet", Value: bson.D{{Key: "displayImageUrls", Value: url}}}})
	if err != nil {
		return fmt.Errorf("failed to attach display image: %w", err)
	}
	return nil
}

// --- MediaStore ---

func (m *Mongo) CreateMedia(ctx context.Context, rec *model.Media) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := m.media.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert media: %w", err)
	}
	return nil
}

func (m *Mongo) GetMedia(ctx context.Context, id string) (*model.Media, error) {
	var rec model.Media
	err := m.media.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load media %s: %w", id, err)
	}
	return &rec, nil
}

func displayID(name string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	return slug + "-" + uuid.New().String()[:8]
}
