package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nitesh/incident_map/internal/spatial"
	"github.com/nitesh/incident_map/pkg/models"
)

type storedEvent struct {
	ev        models.RawEvent
	createdAt time.Time
}

// fakeStore is an in-memory EventStore with the same window and ordering
// rules as the Postgres store.
type fakeStore struct {
	mu        sync.Mutex
	now       func() time.Time
	nextID    int64
	events    []storedEvent
	summaries []models.ClusterSummary
	recent    int
	saveErr   error
	onRecent  func()
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{now: now, nextID: 1}
}

func (f *fakeStore) SaveMany(_ context.Context, events []*models.RawEvent) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		e.ID = f.nextID
		f.nextID++
		f.events = append(f.events, storedEvent{ev: *e, createdAt: f.now()})
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (s storedEvent) at() time.Time {
	if s.ev.Timestamp != nil {
		return *s.ev.Timestamp
	}
	return s.createdAt
}

func (f *fakeStore) Recent(_ context.Context, flt models.EventFilter) ([]models.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent++
	if f.onRecent != nil {
		f.onRecent()
	}
	out := []models.RawEvent{}
	for _, s := range f.events {
		if s.at().Before(flt.Since) {
			continue
		}
		if flt.VerifiedOnly && !s.ev.Verified {
			continue
		}
		if flt.EventType != "" && s.ev.EventType != flt.EventType {
			continue
		}
		out = append(out, s.ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Timestamp, out[j].Timestamp
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID > out[j].ID
		}
		return a.After(*b)
	})
	return out, nil
}

func (f *fakeStore) GetByIDs(_ context.Context, ids []int64) ([]models.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []models.RawEvent{}
	for _, s := range f.events {
		if want[s.ev.ID] {
			out = append(out, s.ev)
		}
	}
	return out, nil
}

func (f *fakeStore) Stats(_ context.Context, since time.Time) (models.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := models.Stats{ByType: map[string]int{}}
	for _, s := range f.events {
		if s.at().Before(since) {
			continue
		}
		st.Total++
		if s.ev.Verified {
			st.Verified++
		}
		st.ByType[string(s.ev.EventType)]++
	}
	return st, nil
}

func (f *fakeStore) matchNearby(s storedEvent, q models.NearbyQuery) bool {
	if s.ev.EventType != q.EventType || s.at().Before(q.Since) {
		return false
	}
	center := models.Coordinate{Latitude: q.Latitude, Longitude: q.Longitude}
	return spatial.HaversineKm(center, s.ev.Coordinates()) <= q.RadiusKm
}

func (f *fakeStore) CountNearby(_ context.Context, q models.NearbyQuery) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.events {
		if f.matchNearby(s, q) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) VerifyNearby(_ context.Context, q models.NearbyQuery) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.events {
		if !f.events[i].ev.Verified && f.matchNearby(f.events[i], q) {
			f.events[i].ev.Verified = true
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SaveSummary(_ context.Context, s *models.ClusterSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, *s)
	return nil
}

func (f *fakeStore) SummariesFor(_ context.Context, eventID int64) ([]models.ClusterSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ClusterSummary
	for _, s := range f.summaries {
		for _, id := range s.MemberIDs {
			if id == eventID {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) byID(id int64) models.RawEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.events {
		if s.ev.ID == id {
			return s.ev
		}
	}
	return models.RawEvent{}
}

type memCache struct {
	mu   sync.Mutex
	gen  int64
	data map[string][]byte
	sets int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
	c.sets++
	return nil
}

func (c *memCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *memCache) BumpGeneration(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return nil
}

type fakeSummarizer struct {
	titles []string
	err    error
}

func (f *fakeSummarizer) SummarizeCluster(_ context.Context, titles []string) (string, error) {
	f.titles = titles
	if f.err != nil {
		return "", f.err
	}
	return "Crowds gathered near the square.", nil
}
