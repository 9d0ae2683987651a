package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nitesh/incident_map/internal/classify"
	"github.com/nitesh/incident_map/internal/cluster"
	"github.com/nitesh/incident_map/internal/metrics"
	"github.com/nitesh/incident_map/pkg/models"
)

// ErrNotFound is returned when none of the requested records exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when an optional backend is not configured.
var ErrUnavailable = errors.New("unavailable")

type EventStore interface {
	SaveMany(ctx context.Context, events []*models.RawEvent) ([]int64, error)
	Recent(ctx context.Context, f models.EventFilter) ([]models.RawEvent, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.RawEvent, error)
	Stats(ctx context.Context, since time.Time) (models.Stats, error)

	CountNearby(ctx context.Context, q models.NearbyQuery) (int, error)
	VerifyNearby(ctx context.Context, q models.NearbyQuery) (int64, error)

	SaveSummary(ctx context.Context, s *models.ClusterSummary) error
	SummariesFor(ctx context.Context, eventID int64) ([]models.ClusterSummary, error)
}

// Summarizer turns a set of report titles into a short description.
type Summarizer interface {
	SummarizeCluster(ctx context.Context, titles []string) (string, error)
}

// Options are the tunables of the map pipeline.
type Options struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DefaultHours    int
	CacheTTL        time.Duration

	PPUThreshold   int
	PPUProximityKm float64
	PPUWindowHours int
}

func DefaultOptions() Options {
	return Options{
		DefaultRadiusKm: 1,
		MaxRadiusKm:     50,
		DefaultHours:    12,
		CacheTTL:        30 * time.Second,
		PPUThreshold:    5,
		PPUProximityKm:  1,
		PPUWindowHours:  6,
	}
}

type Service struct {
	repo  EventStore
	cache Cache
	llm   Summarizer
	rules *classify.RuleSet
	opts  Options
	log   *logrus.Logger
	now   func() time.Time
}

// NewService wires the pipeline. cache and llm may be nil; clusters are then
// always computed and summaries return ErrUnavailable.
func NewService(repo EventStore, cache Cache, llm Summarizer, rules *classify.RuleSet, opts Options, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:  repo,
		cache: cache,
		llm:   llm,
		rules: rules,
		opts:  opts,
		log:   log,
		now:   time.Now,
	}
}

// Query selects the window and filters of a listing or cluster pass. Zero
// Hours means the configured default; nil RadiusKm means the default radius.
type Query struct {
	Hours        int
	VerifiedOnly bool
	EventType    string
	Source       string
	RadiusKm     *float64
}

// IngestResult reports the ids assigned to an ingested batch.
type IngestResult struct {
	BatchID string  `json:"batch_id"`
	IDs     []int64 `json:"ids"`
}

// Ingest normalizes and stores a batch. One invalid record rejects the batch.
func (s *Service) Ingest(ctx context.Context, inputs []models.EventInput) (IngestResult, error) {
	res := IngestResult{BatchID: uuid.New().String(), IDs: []int64{}}
	if len(inputs) == 0 {
		return res, nil
	}
	events := make([]*models.RawEvent, 0, len(inputs))
	for i := range inputs {
		ev, err := inputs[i].ToRawEvent(i)
		if err != nil {
			return IngestResult{}, err
		}
		events = append(events, &ev)
	}
	ids, err := s.repo.SaveMany(ctx, events)
	if err != nil {
		return IngestResult{}, fmt.Errorf("save events: %w", err)
	}
	res.IDs = ids
	metrics.EventsIngested.WithLabelValues("batch").Add(float64(len(ids)))
	s.invalidate(ctx)
	s.log.WithFields(logrus.Fields{"batch_id": res.BatchID, "count": len(ids)}).Info("events ingested")
	return res, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.BumpGeneration(ctx); err != nil {
		s.log.WithError(err).Warn("cache generation bump failed")
	}
}

// WindowHours resolves a requested window; 0 means the configured default.
func (s *Service) WindowHours(hours int) int {
	if hours <= 0 {
		return s.opts.DefaultHours
	}
	return hours
}

// PPUWindowHours is WindowHours for police presence listings.
func (s *Service) PPUWindowHours(hours int) int {
	if hours <= 0 {
		return s.opts.PPUWindowHours
	}
	return hours
}

func (s *Service) since(hours int) time.Time {
	return s.now().Add(-time.Duration(s.WindowHours(hours)) * time.Hour)
}

func parseTypeFilter(raw string) (models.EventType, error) {
	if raw == "" {
		return "", nil
	}
	t := models.EventType(raw)
	if !t.Valid() {
		return "", models.InvalidArgument("unknown event_type %q", raw)
	}
	return t, nil
}

// Events loads and classifies the events selected by q, most recent first.
func (s *Service) Events(ctx context.Context, q Query) ([]models.ClassifiedEvent, error) {
	raw, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.classifyAll(raw, q.Source)
}

func (s *Service) load(ctx context.Context, q Query) ([]models.RawEvent, error) {
	if q.Hours < 0 {
		return nil, models.InvalidArgument("hours must not be negative")
	}
	et, err := parseTypeFilter(q.EventType)
	if err != nil {
		return nil, err
	}
	raw, err := s.repo.Recent(ctx, models.EventFilter{Since: s.since(q.Hours), VerifiedOnly: q.VerifiedOnly, EventType: et})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return raw, nil
}

// classifyAll tags raw events with their source id, keeping only source when set.
func (s *Service) classifyAll(raw []models.RawEvent, source string) ([]models.ClassifiedEvent, error) {
	classified, err := classify.ClassifyBatch(raw, s.rules)
	if err != nil {
		return nil, err
	}
	out := classified[:0]
	for _, ev := range classified {
		metrics.Classifications.WithLabelValues(ev.SourceID).Inc()
		if source == "" || ev.SourceID == source {
			out = append(out, ev)
		}
	}
	return out, nil
}

// radius resolves the requested radius: default when absent, clamped to the
// configured maximum. Zero stays zero.
func (s *Service) radius(r *float64) (float64, error) {
	if r == nil {
		return s.opts.DefaultRadiusKm, nil
	}
	if math.IsNaN(*r) || math.IsInf(*r, 0) || *r < 0 {
		return 0, models.InvalidArgument("radius_km must be a non-negative number")
	}
	if s.opts.MaxRadiusKm > 0 && *r > s.opts.MaxRadiusKm {
		return s.opts.MaxRadiusKm, nil
	}
	return *r, nil
}

// Clusters runs the classify and cluster pass over the selected window. The
// response is cached until the next write to the event store.
func (s *Service) Clusters(ctx context.Context, q Query) ([]models.ClusterOutput, error) {
	radius, err := s.radius(q.RadiusKm)
	if err != nil {
		return nil, err
	}
	if q.Hours < 0 {
		return nil, models.InvalidArgument("hours must not be negative")
	}
	hours := s.WindowHours(q.Hours)

	key := ""
	if s.cache != nil {
		gen, err := s.cache.Generation(ctx)
		if err != nil {
			s.log.WithError(err).Warn("cache generation read failed")
		} else {
			key = fmt.Sprintf("g%d:h%d:r%g:v%t:t%s:s%s", gen, hours, radius, q.VerifiedOnly, q.EventType, q.Source)
			if b, ok, err := s.cache.Get(ctx, key); err != nil {
				s.log.WithError(err).Warn("cache read failed")
			} else if ok {
				var out []models.ClusterOutput
				if err := json.Unmarshal(b, &out); err == nil {
					metrics.CacheHits.Inc()
					return out, nil
				}
			}
		}
		metrics.CacheMisses.Inc()
	}

	raw, err := s.load(ctx, Query{Hours: hours, VerifiedOnly: q.VerifiedOnly, EventType: q.EventType})
	if err != nil {
		return nil, err
	}
	start := s.now()
	events, err := s.classifyAll(raw, q.Source)
	if err != nil {
		return nil, err
	}
	out, err := cluster.ClusterAndWeight(events, radius)
	if err != nil {
		return nil, err
	}
	metrics.ClusterDuration.Observe(s.now().Sub(start).Seconds())
	for i := range out {
		metrics.ClusterOutputs.WithLabelValues(metrics.OutputKind(out[i].IsCluster)).Inc()
	}
	s.log.WithFields(logrus.Fields{"events": len(events), "outputs": len(out), "radius_km": radius}).Debug("cluster pass")

	if key != "" {
		if b, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, b, s.opts.CacheTTL); err != nil {
				s.log.WithError(err).Warn("cache write failed")
			}
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context, hours int) (models.Stats, error) {
	if hours < 0 {
		return models.Stats{}, models.InvalidArgument("hours must not be negative")
	}
	st, err := s.repo.Stats(ctx, s.since(hours))
	if err != nil {
		return models.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	if st.ByType == nil {
		st.ByType = map[string]int{}
	}
	return st, nil
}

// SummarizeCluster asks the LLM for a short description of the given events
// and stores it.
func (s *Service) SummarizeCluster(ctx context.Context, ids []int64) (models.ClusterSummary, error) {
	if len(ids) == 0 {
		return models.ClusterSummary{}, models.InvalidArgument("ids must not be empty")
	}
	if s.llm == nil {
		return models.ClusterSummary{}, fmt.Errorf("llm summaries: %w", ErrUnavailable)
	}
	events, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return models.ClusterSummary{}, fmt.Errorf("fetch events: %w", err)
	}
	if len(events) == 0 {
		return models.ClusterSummary{}, fmt.Errorf("events %v: %w", ids, ErrNotFound)
	}

	titles := make([]string, 0, len(events))
	found := make([]int64, 0, len(events))
	for _, ev := range events {
		t := ev.Title
		if t == "" {
			t = ev.Description
		}
		if t != "" {
			titles = append(titles, t)
		}
		found = append(found, ev.ID)
	}

	text, err := s.llm.SummarizeCluster(ctx, titles)
	if err != nil {
		return models.ClusterSummary{}, fmt.Errorf("llm summarize: %w", err)
	}
	sum := models.ClusterSummary{ID: uuid.New().String(), MemberIDs: found, Summary: text, CreatedAt: s.now().UTC()}
	if err := s.repo.SaveSummary(ctx, &sum); err != nil {
		return models.ClusterSummary{}, fmt.Errorf("save summary: %w", err)
	}
	return sum, nil
}

// Summaries lists stored summaries that include the event.
func (s *Service) Summaries(ctx context.Context, eventID int64) ([]models.ClusterSummary, error) {
	out, err := s.repo.SummariesFor(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	if out == nil {
		out = []models.ClusterSummary{}
	}
	return out, nil
}
