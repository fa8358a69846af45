package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/characterhub/api/internal/model"
)

// Memory implements JobStore, CharacterStore and MediaStore in process. It
// mirrors the Mongo implementation's conditional-transition semantics and
// backs tests and redis-less development.
type Memory struct {
	mu         sync.Mutex
	jobs       map[string]*model.Job
	characters map[string]*model.Character
	profiles   map[string]*model.CharacterProfile
	stats      map[string]*model.CharacterStats
	media      map[string]*model.Media
}

func NewMemory() *Memory {
	return &Memory{
		jobs:       make(map[string]*model.Job),
		characters: make(map[string]*model.Character),
		profiles:   make(map[string]*model.CharacterProfile),
		stats:      make(map[string]*model.CharacterStats),
		media:      make(map[string]*model.Media),
	}
}

// --- JobStore ---

func (m *Memory) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return ErrDuplicate
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string, f JobFilter) ([]model.Job, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []model.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if f.Kind != "" && job.Kind != f.Kind {
			continue
		}
		if f.Kind == "" && len(f.Kinds) > 0 {
			matched := false
			for _, k := range f.Kinds {
				if job.Kind == k {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if f.MediaType != "" && job.MediaType != f.MediaType {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		all = append(all, *job)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if f.Skip >= len(all) {
		return nil, total, nil
	}
	all = all[f.Skip:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *Memory) transition(jobID string, from []model.JobStatus, apply func(*model.Job)) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	eligible := false
	for _, s := range from {
		if job.Status == s {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, ErrTerminal
	}
	apply(job)
	cp := *job
	return &cp, nil
}

func (m *Memory) MarkActive(_ context.Context, jobID string) (*model.Job, error) {
	return m.transition(jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		func(job *model.Job) {
			job.Status = model.JobStatusActive
			job.Progress = 0
			job.AttemptsMade++
			if job.StartedAt == nil {
				now := time.Now().UTC()
				job.StartedAt = &now
			}
		})
}

func (m *Memory) SetProgress(_ context.Context, jobID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	if job.Status == model.JobStatusActive && progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (m *Memory) Complete(_ context.Context, jobID string, result *model.JobResult) (*model.Job, error) {
	return m.transition(jobID,
		[]model.JobStatus{model.JobStatusActive},
		func(job *model.Job) {
			now := time.Now().UTC()
			job.Status = model.JobStatusCompleted
			job.Progress = 100
			job.Result = result
			job.CompletedAt = &now
		})
}

func (m *Memory) Fail(_ context.Context, jobID string, reason string) (*model.Job, error) {
	return m.transition(jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		func(job *model.Job) {
			now := time.Now().UTC()
			job.Status = model.JobStatusFailed
			job.Result = &model.JobResult{Error: reason}
			job.FailedReason = reason
			job.CompletedAt = &now
		})
}

func (m *Memory) Cancel(_ context.Context, jobID string) (*model.Job, error) {
	return m.transition(jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusActive},
		func(job *model.Job) {
			now := time.Now().UTC()
			job.Status = model.JobStatusCancelled
			job.CompletedAt = &now
		})
}

// --- CharacterStore ---

func (m *Memory) CreateCharacter(_ context.Context, ch *model.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.DisplayID == "" {
		slug := strings.ToLower(strings.Join(strings.Fields(ch.Name), "-"))
		ch.DisplayID = slug + "-" + ch.ID[:8]
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.DisplayImageURLs == nil {
		ch.DisplayImageURLs = []string{}
	}
	if _, ok := m.characters[ch.ID]; ok {
		return ErrDuplicate
	}
	cp := *ch
	m.characters[ch.ID] = &cp
	return nil
}

func (m *Memory) GetCharacter(_ context.Context, id string) (*model.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.characters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *Memory) CreateLinkedRecords(_ context.Context, characterID string, in *model.CharacterInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[characterID] = &model.CharacterProfile{
		CharacterID: characterID,
		Physical:    in.Physical,
		Personality: in.Personality,
	}
	m.stats[characterID] = &model.CharacterStats{CharacterID: characterID}
	return nil
}

func (m *Memory) GetProfile(_ context.Context, characterID string) (*model.CharacterProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[characterID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SavePersonalityDetails(_ context.Context, characterID, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[characterID]; ok {
		p.PersonalityDetails = details
	}
	return nil
}

func (m *Memory) AttachDisplayImage(_ context.Context, characterID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.characters[characterID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range ch.DisplayImageURLs {
		if existing == url {
			return nil
		}
	}
	ch.DisplayImageURLs = append(ch.DisplayImageURLs, url)
	return nil
}

// --- MediaStore ---

func (m *Memory) CreateMedia(_ context.Context, rec *model.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	m.media[rec.ID] = &cp
	return nil
}

func (m *Memory) GetMedia(_ context.Context, id string) (*model.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.media[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// MediaByCharacter returns media records for one character, newest first.
// Used by tests to assert pipeline side effects.
func (m *Memory) MediaByCharacter(characterID string) []model.Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Media
	for _, rec := range m.media {
		if rec.CharacterID == characterID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
