package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/model"
	"github.com/taskhive/chatcache/internal/store"
	"github.com/taskhive/chatcache/internal/util/workerpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// prefetchTimeSavedEstimate is the constant credited per predictive cache
// hit. It is a documented approximation of the fetch latency a hit avoids,
// not a measured delta.
const prefetchTimeSavedEstimate = 150 * time.Millisecond

// patternFrequencyCeiling is the frequency at which confidence saturates at 1
const patternFrequencyCeiling = 5

// intentRule maps keywords to an intent; rules are evaluated in order and
// the first match wins
type intentRule struct {
	intent   model.Intent
	keywords []string
}

var intentRules = []intentRule{
	{model.IntentTaskQuery, []string{"task", "todo", "to-do", "subtask", "microtask"}},
	{model.IntentProjectQuery, []string{"project", "board", "milestone", "kanban"}},
	{model.IntentTimeQuery, []string{"today", "tomorrow", "week", "calendar", "deadline", "schedule", "due"}},
	{model.IntentHelpQuery, []string{"help", "how do", "how to", "what can"}},
	{model.IntentAnalysisQuery, []string{"analy", "report", "summary", "progress", "overview"}},
	{model.IntentPriorityQuery, []string{"priority", "urgent", "important", "eisenhower"}},
}

// intentTransitions is a fixed transition table keyed by the last element of
// a mined sequence; predictions are a static lookup, not learned from data
var intentTransitions = map[model.Intent]model.Intent{
	model.IntentTaskQuery:     model.IntentProjectQuery,
	model.IntentProjectQuery:  model.IntentTaskQuery,
	model.IntentTimeQuery:     model.IntentTaskQuery,
	model.IntentHelpQuery:     model.IntentTaskQuery,
	model.IntentAnalysisQuery: model.IntentPriorityQuery,
	model.IntentPriorityQuery: model.IntentTaskQuery,
	model.IntentGeneralQuery:  model.IntentTaskQuery,
}

// intentQueries maps a predicted intent to the backing-store query that
// warms its data. Intents without an entry are never prefetched.
var intentQueries = map[model.Intent]struct {
	table     string
	operation string
}{
	model.IntentTaskQuery:     {"tasks", "list"},
	model.IntentProjectQuery:  {"projects", "list"},
	model.IntentTimeQuery:     {"tasks", "due_soon"},
	model.IntentAnalysisQuery: {"tasks", "stats"},
	model.IntentPriorityQuery: {"tasks", "by_priority"},
}

// intentObservation is one categorized message in a user's recent window
type intentObservation struct {
	intent model.Intent
	at     time.Time
	words  []string
}

// PredictivePrefetcher mines per-user intent sequences and opportunistically
// warms a predictive cache with the data the next predicted query will need
type PredictivePrefetcher struct {
	config  config.PrefetchConfig
	store   store.HistoryStore
	pool    *workerpool.Pool
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	recent     map[string][]intentObservation
	patterns   map[string]*model.UserPattern
	predictive map[string]*model.PredictiveCacheEntry

	issued              int64
	prefetchHits        int64
	prefetchMisses      int64
	timeSavedEstimate   time.Duration
	accuratePredictions int64
	totalPredictions    int64

	stopOnce sync.Once
	stopChan chan struct{}
}

// PrefetcherStats holds prefetcher statistics
type PrefetcherStats struct {
	Issued             int64
	Hits               int64
	Misses             int64
	TotalLookups       int64
	TimeSavedEstimate  time.Duration
	ActivePatterns     int
	PredictiveEntries  int
	PredictionAccuracy float64
}

// NewPredictivePrefetcher creates a new prefetcher and starts its maintenance
// goroutine. Stop must be called to cancel it and drain the worker pool.
func NewPredictivePrefetcher(cfg config.PrefetchConfig, historyStore store.HistoryStore, m *metrics.Metrics, logger *zap.Logger) *PredictivePrefetcher {
	ratePerSecond := cfg.IssueRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}

	p := &PredictivePrefetcher{
		config: cfg,
		store:  historyStore,
		pool: workerpool.New(&workerpool.Config{
			Name:       "prefetch",
			MaxWorkers: cfg.Workers,
			QueueSize:  cfg.QueueSize,
			Logger:     logger,
		}),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), cfg.MaxPrefetchQueries),
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		recent:     make(map[string][]intentObservation),
		patterns:   make(map[string]*model.UserPattern),
		predictive: make(map[string]*model.PredictiveCacheEntry),
		stopChan:   make(chan struct{}),
	}

	go p.maintenanceLoop()

	return p
}

// CategorizeIntent maps normalized message content to one coarse intent
// bucket; ties resolve to the first matching rule
func CategorizeIntent(content string) model.Intent {
	normalized := NormalizeContent(content)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.intent
			}
		}
	}
	return model.IntentGeneralQuery
}

// ProcessMessage observes a new message: updates the user's intent window,
// tracks prediction accuracy against the realized intent, re-mines patterns,
// and triggers background prefetch for confident predictions.
func (p *PredictivePrefetcher) ProcessMessage(userID string, msg model.Message) {
	intent := CategorizeIntent(msg.Content)
	now := p.now()

	p.mu.Lock()

	p.trackAccuracyLocked(userID, intent)

	window := append(p.recent[userID], intentObservation{
		intent: intent,
		at:     now,
		words:  significantWords(msg.Content),
	})
	if len(window) > p.config.PatternAnalysisDepth {
		window = window[len(window)-p.config.PatternAnalysisDepth:]
	}
	p.recent[userID] = window

	p.minePatternsLocked(userID, window, now)
	candidates := p.prefetchCandidatesLocked(userID)

	if p.metrics != nil {
		p.metrics.PatternsActive.Set(float64(len(p.patterns)))
	}
	p.mu.Unlock()

	for _, candidate := range candidates {
		p.schedulePrefetch(userID, candidate)
	}
}

// trackAccuracyLocked scores the realized intent against current predictions.
// Caller holds the lock.
func (p *PredictivePrefetcher) trackAccuracyLocked(userID string, realized model.Intent) {
	predicted := false
	hasPatterns := false
	for _, pattern := range p.patterns {
		if pattern.UserID != userID {
			continue
		}
		hasPatterns = true
		if pattern.PredictedNext == realized {
			predicted = true
			break
		}
	}

	if hasPatterns {
		p.totalPredictions++
		if predicted {
			p.accuratePredictions++
		}
	}
}

// minePatternsLocked extracts all contiguous intent subsequences of length
// 2..4 from the window and promotes those recurring at least twice.
// Caller holds the lock.
func (p *PredictivePrefetcher) minePatternsLocked(userID string, window []intentObservation, now time.Time) {
	intents := make([]model.Intent, len(window))
	for i, obs := range window {
		intents[i] = obs.intent
	}

	counts := make(map[string]int)
	sequences := make(map[string][]model.Intent)

	for length := 2; length <= 4; length++ {
		for start := 0; start+length <= len(intents); start++ {
			seq := intents[start : start+length]
			key := sequenceKey(userID, seq)
			counts[key]++
			if _, seen := sequences[key]; !seen {
				sequences[key] = append([]model.Intent(nil), seq...)
			}
		}
	}

	for key, frequency := range counts {
		if frequency < 2 {
			continue
		}
		seq := sequences[key]
		last := seq[len(seq)-1]

		confidence := float64(frequency) / patternFrequencyCeiling
		if confidence > 1 {
			confidence = 1
		}

		p.patterns[key] = &model.UserPattern{
			UserID:        userID,
			Sequence:      seq,
			Frequency:     frequency,
			Confidence:    confidence,
			PredictedNext: intentTransitions[last],
			Triggers:      buildTriggers(window),
			LastSeen:      now,
		}
	}
}

// buildTriggers captures whether most of the window falls in working hours
// plus the top co-occurring content words
func buildTriggers(window []intentObservation) model.ContextTriggers {
	inWorkingHours := 0
	wordCounts := make(map[string]int)
	for _, obs := range window {
		hour := obs.at.Hour()
		if hour >= 9 && hour < 18 {
			inWorkingHours++
		}
		for _, w := range obs.words {
			wordCounts[w]++
		}
	}

	words := make([]string, 0, len(wordCounts))
	for w := range wordCounts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if wordCounts[words[i]] != wordCounts[words[j]] {
			return wordCounts[words[i]] > wordCounts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 3 {
		words = words[:3]
	}

	return model.ContextTriggers{
		WorkingHours: inWorkingHours*2 > len(window),
		TopWords:     words,
	}
}

// prefetchCandidatesLocked selects up to maxPrefetchQueries predicted intents
// whose patterns clear the confidence cutoff and which have no fresh
// predictive entry yet. Caller holds the lock.
func (p *PredictivePrefetcher) prefetchCandidatesLocked(userID string) []model.UserPattern {
	now := p.now()
	candidates := make([]model.UserPattern, 0, p.config.MaxPrefetchQueries)
	chosen := make(map[model.Intent]struct{})

	ranked := make([]*model.UserPattern, 0)
	for _, pattern := range p.patterns {
		if pattern.UserID != userID || pattern.Confidence < p.config.PredictionConfidenceCutoff {
			continue
		}
		ranked = append(ranked, pattern)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	for _, pattern := range ranked {
		if len(candidates) >= p.config.MaxPrefetchQueries {
			break
		}
		next := pattern.PredictedNext
		if _, ok := intentQueries[next]; !ok {
			continue
		}
		if _, dup := chosen[next]; dup {
			continue
		}
		if entry, exists := p.predictive[predictiveKey(userID, next)]; exists && !entry.Expired(now) {
			continue
		}
		chosen[next] = struct{}{}
		candidates = append(candidates, *pattern)
	}

	return candidates
}

// schedulePrefetch submits a background store query for a predicted intent.
// Speculative work is shed when the rate limiter or pool queue rejects it.
func (p *PredictivePrefetcher) schedulePrefetch(userID string, pattern model.UserPattern) {
	if !p.limiter.Allow() {
		p.logger.Debug("Prefetch throttled",
			zap.String("user_id", userID),
			zap.String("intent", string(pattern.PredictedNext)))
		return
	}

	next := pattern.PredictedNext
	query := intentQueries[next]
	taskID := fmt.Sprintf("prefetch-%s-%s", userID, next)

	accepted := p.pool.TrySubmit(workerpool.Task{
		ID: taskID,
		Fn: func(ctx context.Context) error {
			fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			payload, err := p.store.FetchTable(fetchCtx, userID, query.table, query.operation, store.TableParams{"intent": string(next)})
			if err != nil {
				// Store failures never propagate; the speculative entry is
				// simply not created
				p.logger.Debug("Prefetch query failed",
					zap.String("user_id", userID),
					zap.String("intent", string(next)),
					zap.Error(err))
				return nil
			}

			p.storePrefetched(userID, pattern, payload)
			return nil
		},
	})

	if accepted {
		p.mu.Lock()
		p.issued++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PrefetchIssuedTotal.Inc()
		}
	}
}

func (p *PredictivePrefetcher) storePrefetched(userID string, pattern model.UserPattern, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.predictive) >= p.config.MaxPredictiveCache {
		p.evictLowestUsageLocked()
	}

	key := predictiveKey(userID, pattern.PredictedNext)
	p.predictive[key] = &model.PredictiveCacheEntry{
		Key:        key,
		Payload:    payload,
		Pattern:    pattern.Sequence,
		Confidence: pattern.Confidence,
		Timestamp:  p.now(),
		UsageCount: 0,
		TTL:        p.config.PredictiveTTL,
	}

	if p.metrics != nil {
		p.metrics.PredictiveEntriesTotal.Set(float64(len(p.predictive)))
	}
}

// GetPrefetchedData consumes a predictive cache entry for a realized query.
// A hit increments the entry's usage count and the approximate time-saved
// counter; hits + misses always equals total lookups.
func (p *PredictivePrefetcher) GetPrefetchedData(userID string, queryType model.Intent) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.predictive[predictiveKey(userID, queryType)]
	if !exists || entry.Expired(p.now()) {
		p.prefetchMisses++
		if p.metrics != nil {
			p.metrics.PrefetchMissesTotal.Inc()
		}
		return nil, false
	}

	entry.UsageCount++
	p.prefetchHits++
	p.timeSavedEstimate += prefetchTimeSavedEstimate
	if p.metrics != nil {
		p.metrics.PrefetchHitsTotal.Inc()
	}

	return entry.Payload, true
}

// Stats returns prefetcher statistics. TimeSavedEstimate is a constant
// per-hit approximation, not measured latency.
func (p *PredictivePrefetcher) Stats() PrefetcherStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PrefetcherStats{
		Issued:            p.issued,
		Hits:              p.prefetchHits,
		Misses:            p.prefetchMisses,
		TotalLookups:      p.prefetchHits + p.prefetchMisses,
		TimeSavedEstimate: p.timeSavedEstimate,
		ActivePatterns:    len(p.patterns),
		PredictiveEntries: len(p.predictive),
	}
	if p.totalPredictions > 0 {
		stats.PredictionAccuracy = float64(p.accuratePredictions) / float64(p.totalPredictions)
	}
	return stats
}

// Patterns returns a snapshot of the mined patterns for a user
func (p *PredictivePrefetcher) Patterns(userID string) []model.UserPattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.UserPattern, 0)
	for _, pattern := range p.patterns {
		if pattern.UserID == userID {
			out = append(out, *pattern)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return sequenceKey(out[i].UserID, out[i].Sequence) < sequenceKey(out[j].UserID, out[j].Sequence)
	})
	return out
}

// Stop cancels the maintenance loop and drains the worker pool
func (p *PredictivePrefetcher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if err := p.pool.Stop(5 * time.Second); err != nil {
			p.logger.Warn("Prefetch pool stop timed out", zap.Error(err))
		}
	})
}

// maintenanceLoop periodically purges expired predictive entries and prunes
// stale or low-confidence patterns
func (p *PredictivePrefetcher) maintenanceLoop() {
	interval := p.config.MaintenanceInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.runMaintenance()
		}
	}
}

func (p *PredictivePrefetcher) runMaintenance() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	purged := 0
	for key, entry := range p.predictive {
		if entry.Expired(now) {
			delete(p.predictive, key)
			purged++
		}
	}

	pruned := 0
	for key, pattern := range p.patterns {
		stale := now.Sub(pattern.LastSeen) > p.config.PatternMaxAge
		weak := pattern.Confidence < p.config.ConfidenceFloor
		if stale || weak {
			delete(p.patterns, key)
			pruned++
		}
	}

	if purged > 0 || pruned > 0 {
		p.logger.Debug("Prefetcher maintenance",
			zap.Int("purged_entries", purged),
			zap.Int("pruned_patterns", pruned))
	}

	if p.metrics != nil {
		p.metrics.PredictiveEntriesTotal.Set(float64(len(p.predictive)))
		p.metrics.PatternsActive.Set(float64(len(p.patterns)))
	}
}

// evictLowestUsageLocked removes the predictive entry with the lowest usage
// count, breaking ties by age. Caller holds the lock.
func (p *PredictivePrefetcher) evictLowestUsageLocked() {
	var victimKey string
	var victim *model.PredictiveCacheEntry

	for key, entry := range p.predictive {
		if victim == nil ||
			entry.UsageCount < victim.UsageCount ||
			(entry.UsageCount == victim.UsageCount && entry.Timestamp.Before(victim.Timestamp)) {
			victimKey = key
			victim = entry
		}
	}

	if victim != nil {
		delete(p.predictive, victimKey)
	}
}

func predictiveKey(userID string, intent model.Intent) string {
	return fmt.Sprintf("%s|%s", userID, intent)
}

func sequenceKey(userID string, seq []model.Intent) string {
	parts := make([]string, len(seq))
	for i, intent := range seq {
		parts[i] = string(intent)
	}
	return fmt.Sprintf("%s|%s", userID, strings.Join(parts, ","))
}

// significantWords extracts the content words used for context triggers
func significantWords(content string) []string {
	fields := strings.Fields(NormalizeContent(content))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'")
		if len(f) > 3 {
			words = append(words, f)
		}
	}
	return words
}
