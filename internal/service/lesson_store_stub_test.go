package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

var wib = time.FixedZone("WIB", 7*3600)

func strPtr(s string) *string { return &s }

// memoryStore is an in-memory stand-in for the template, lesson and
// attendance repositories. Like the database it rejects a second exception
// for the same (template, occurrence date).
type memoryStore struct {
	mu         sync.Mutex
	codec      occurrence.Codec
	templates  map[string]models.RecurrenceTemplate
	lessons    map[string]models.Lesson
	attendance map[string]models.LessonAttendance

	staleExceptionReads int
	deletedAttendance   []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		codec:      occurrence.NewCodec(wib),
		templates:  map[string]models.RecurrenceTemplate{},
		lessons:    map[string]models.Lesson{},
		attendance: map[string]models.LessonAttendance{},
	}
}

type templateRepoStub struct{ *memoryStore }
type lessonRepoStub struct{ *memoryStore }
type attendanceRepoStub struct{ *memoryStore }

func (s templateRepoStub) Create(_ context.Context, tmpl *models.RecurrenceTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Date(2025, 9, 1, 8, 0, 0, 0, wib)
	}
	s.templates[tmpl.ID] = *tmpl
	return nil
}

func (s templateRepoStub) FindByID(_ context.Context, id string) (*models.RecurrenceTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &tmpl, nil
}

func (s templateRepoStub) List(_ context.Context, filter models.TemplateFilter) ([]models.RecurrenceTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecurrenceTemplate
	for _, tmpl := range s.templates {
		if filter.ClassID != "" && tmpl.ClassID != filter.ClassID {
			continue
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s templateRepoStub) UpdateSeries(_ context.Context, tmpl *models.RecurrenceTemplate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tmpl.ID]; !ok {
		return 0, sql.ErrNoRows
	}
	s.templates[tmpl.ID] = *tmpl
	return s.dropExceptionsLocked(tmpl.ID), nil
}

func (s templateRepoStub) DeleteSeries(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return 0, sql.ErrNoRows
	}
	dropped := s.dropExceptionsLocked(id)
	delete(s.templates, id)
	return dropped, nil
}

func (s *memoryStore) dropExceptionsLocked(templateID string) int64 {
	var dropped int64
	for id, lesson := range s.lessons {
		if lesson.TemplateID != nil && *lesson.TemplateID == templateID {
			delete(s.lessons, id)
			dropped++
		}
	}
	return dropped
}

func (s *memoryStore) exceptionKeyLocked(l models.Lesson) (string, bool) {
	return s.codec.ExceptionKey(l)
}

func (s lessonRepoStub) Create(_ context.Context, lesson *models.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.exceptionKeyLocked(*lesson); ok {
		for _, existing := range s.lessons {
			if other, ok := s.exceptionKeyLocked(existing); ok && other == key {
				return appErrors.Wrap(fmt.Errorf("unique violation on %s", key), appErrors.ErrDuplicateException.Code, appErrors.ErrDuplicateException.Status, appErrors.ErrDuplicateException.Message)
			}
		}
	}
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	s.lessons[lesson.ID] = *lesson
	return nil
}

func (s lessonRepoStub) FindByID(_ context.Context, id string) (*models.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lesson, ok := s.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &lesson, nil
}

func (s lessonRepoStub) FindException(_ context.Context, templateID string, date time.Time) (*models.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleExceptionReads > 0 {
		s.staleExceptionReads--
		return nil, sql.ErrNoRows
	}
	want := s.codec.Key(templateID, occurrence.CalendarDate(date))
	for _, lesson := range s.lessons {
		if key, ok := s.exceptionKeyLocked(lesson); ok && key == want {
			return &lesson, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s lessonRepoStub) ListStandalone(_ context.Context, filter models.LessonFilter) ([]models.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lesson
	for _, lesson := range s.lessons {
		if lesson.IsStandalone() && !lesson.StartAt.Before(filter.From) && lesson.StartAt.Before(filter.To) {
			out = append(out, lesson)
		}
	}
	return out, nil
}

func (s lessonRepoStub) ListExceptions(_ context.Context, templateIDs []string, from, to time.Time) ([]models.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range templateIDs {
		wanted[id] = true
	}
	first, last := occurrence.CalendarDate(from), occurrence.CalendarDate(to)
	var out []models.Lesson
	for _, lesson := range s.lessons {
		if lesson.IsStandalone() || !wanted[*lesson.TemplateID] {
			continue
		}
		d := s.codec.ExceptionDate(lesson)
		if d.Before(first) || d.After(last) {
			continue
		}
		out = append(out, lesson)
	}
	return out, nil
}

func (s lessonRepoStub) ListExceptionsByTemplate(_ context.Context, templateID string) ([]models.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lesson
	for _, lesson := range s.lessons {
		if !lesson.IsStandalone() && *lesson.TemplateID == templateID {
			out = append(out, lesson)
		}
	}
	return out, nil
}

func (s lessonRepoStub) Update(_ context.Context, lesson *models.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[lesson.ID]; !ok {
		return sql.ErrNoRows
	}
	s.lessons[lesson.ID] = *lesson
	return nil
}

func (s lessonRepoStub) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.lessons, id)
	return nil
}

func (s attendanceRepoStub) Create(_ context.Context, rec *models.LessonAttendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.attendance[rec.ID] = *rec
	return nil
}

func (s attendanceRepoStub) List(_ context.Context, filter models.LessonAttendanceFilter) ([]models.LessonAttendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.attendance))
	for id := range s.attendance {
		if id > filter.AfterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	out := make([]models.LessonAttendance, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.attendance[id])
	}
	return out, nil
}

func (s attendanceRepoStub) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.attendance[id]; ok {
			delete(s.attendance, id)
			s.deletedAttendance = append(s.deletedAttendance, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) exceptionsOf(templateID string) []models.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lesson
	for _, lesson := range s.lessons {
		if !lesson.IsStandalone() && *lesson.TemplateID == templateID {
			out = append(out, lesson)
		}
	}
	return out
}

// cacheRepoStub keeps JSON payloads in memory the way the Redis repository does.
type cacheRepoStub struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{entries: map[string][]byte{}}
}

func (r *cacheRepoStub) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *cacheRepoStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = payload
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	removed := 0
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *cacheRepoStub) Incr(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	if raw, ok := r.entries[key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	r.entries[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// memoCacheStub is the real occurrence cache over cacheRepoStub, counting
// hits and recording invalidations.
type memoCacheStub struct {
	*OccurrenceCache
	repo        *cacheRepoStub
	mu          sync.Mutex
	hits        int
	invalidated []string
}

func newMemoCacheStub() *memoCacheStub {
	repo := newCacheRepoStub()
	return &memoCacheStub{
		OccurrenceCache: NewOccurrenceCache(repo, nil, time.Hour, nil, true),
		repo:            repo,
	}
}

func (c *memoCacheStub) Lookup(ctx context.Context, tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window) ([]models.Occurrence, bool) {
	occ, ok := c.OccurrenceCache.Lookup(ctx, tmpl, gen, w)
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
	}
	return occ, ok
}

func (c *memoCacheStub) InvalidateTemplate(ctx context.Context, templateID string) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, templateID)
	c.mu.Unlock()
	return c.OccurrenceCache.InvalidateTemplate(ctx, templateID)
}
