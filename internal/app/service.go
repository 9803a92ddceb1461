// Package service wires the candidate pipeline together and implements
// the dependencies required by the HTTP API: submission, job status,
// leaderboard reads and report assembly. It is also the StageRunner the
// worker pool dispatches jobs to.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/credrank/internal/adapters/github"
	jobqueue "github.com/okian/credrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/credrank/internal/adapters/mq/worker"
	"github.com/okian/credrank/internal/adapters/repository"
	"github.com/okian/credrank/internal/crawl"
	"github.com/okian/credrank/internal/domain/dedupe"
	"github.com/okian/credrank/internal/domain/elo"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/internal/domain/trust"
	"github.com/okian/credrank/internal/extract"
	"github.com/okian/credrank/internal/report"
	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Defaults for knobs not overridden by options.
const (
	defaultDedupeSize     = 100_000
	defaultJobTimeout     = 2 * time.Minute
	defaultMaxJobAttempts = 3
	topProjectCount       = 3
)

// scorePendingReason marks candidates whose score stage has not finished.
const scorePendingReason = "pending"

// cancelReason is recorded on jobs dead-lettered by a withdrawal.
const cancelReason = "cancelled"

// ErrCancelled marks work rejected because the candidate was withdrawn.
var ErrCancelled = errors.New("candidate cancelled")

// canceller tracks withdrawn candidates and the cancel funcs of their
// in-flight stages so a withdrawal can interrupt running work.
type canceller struct {
	mu        sync.Mutex
	nextToken int
	withdrawn map[string]struct{}
	inflight  map[string]map[int]context.CancelFunc
}

func newCanceller() *canceller {
	return &canceller{
		withdrawn: make(map[string]struct{}),
		inflight:  make(map[string]map[int]context.CancelFunc),
	}
}

// withdraw marks the candidate and cancels any in-flight stage. Returns
// false when the candidate was already withdrawn.
func (c *canceller) withdraw(candidateID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.withdrawn[candidateID]; done {
		return false
	}
	c.withdrawn[candidateID] = struct{}{}
	for _, cancel := range c.inflight[candidateID] {
		cancel()
	}
	return true
}

func (c *canceller) isWithdrawn(candidateID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.withdrawn[candidateID]
	return ok
}

// track registers an in-flight stage's cancel func and returns its release.
func (c *canceller) track(candidateID string, cancel context.CancelFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextToken++
	token := c.nextToken
	if c.inflight[candidateID] == nil {
		c.inflight[candidateID] = make(map[int]context.CancelFunc)
	}
	c.inflight[candidateID][token] = cancel

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inflight[candidateID], token)
		if len(c.inflight[candidateID]) == 0 {
			delete(c.inflight, candidateID)
		}
	}
}

// Service implements the API dependencies for the ranking pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components, built in Start.
	store    *repository.Store
	queue    *jobqueue.Queue
	deduper  dedupe.Deduper
	crawler  *crawl.Orchestrator
	scorer   *trust.Scorer
	eloReg   *elo.Registry
	pool     *workerpool.Pool
	poolStop context.CancelFunc
	cancels  *canceller

	// Configuration.
	dbPath           string
	workerCount      int
	jobTimeout       time.Duration
	maxJobAttempts   int
	crawlDepth       int
	crawlConcurrency int
	dedupeSize       int
	eloOpponents     int
	eloEpsilon       float64

	githubToken   string
	githubBaseURL string
	geminiAPIKey  string
	geminiModel   string

	// fetcher overrides the GitHub client when injected (tests).
	fetcher crawl.Fetcher

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDBPath points the queue and report store at a SQLite file.
func WithDBPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.dbPath = path
		}
	}
}

// WithWorkerCount sets the number of job workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithJobTimeout bounds a single pipeline stage.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithMaxJobAttempts caps job redelivery before dead-lettering.
func WithMaxJobAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxJobAttempts = n
		}
	}
}

// WithCrawlDepth sets how many link-expansion levels the crawler follows.
func WithCrawlDepth(depth int) Option {
	return func(s *Service) {
		if depth >= 0 {
			s.crawlDepth = depth
		}
	}
}

// WithCrawlConcurrency bounds parallel URL fetches per candidate.
func WithCrawlConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.crawlConcurrency = n
		}
	}
}

// WithDedupeSize sets the size of the submission idempotency cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithEloOpponents sets the sampled opponents per pool arrival.
func WithEloOpponents(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.eloOpponents = k
		}
	}
}

// WithEloRescoreEpsilon sets the score delta below which re-ranking is a
// no-op.
func WithEloRescoreEpsilon(eps float64) Option {
	return func(s *Service) {
		if eps >= 0 {
			s.eloEpsilon = eps
		}
	}
}

// WithGitHubToken authenticates fetches against the GitHub API.
func WithGitHubToken(token string) Option {
	return func(s *Service) { s.githubToken = token }
}

// WithGitHubBaseURL points the fetcher at a different API host (tests).
func WithGitHubBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.githubBaseURL = base
		}
	}
}

// WithGemini enables online summarization and similarity via the Gemini
// API. An empty key keeps the deterministic offline fallback.
func WithGemini(apiKey, model string) Option {
	return func(s *Service) {
		s.geminiAPIKey = apiKey
		if model != "" {
			s.geminiModel = model
		}
	}
}

// WithFetcher injects a ready fetcher, bypassing the GitHub client setup.
func WithFetcher(f crawl.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:         "credrank.db",
		workerCount:    runtime.NumCPU() * 2,
		jobTimeout:     defaultJobTimeout,
		maxJobAttempts: defaultMaxJobAttempts,
		dedupeSize:     defaultDedupeSize,
		crawlDepth:     -1, // orchestrator default unless set explicitly
		cancels:        newCanceller(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting ranking service")

	store, err := repository.New(s.dbPath)
	if err != nil {
		return fmt.Errorf("report store: %w", err)
	}
	s.store = store

	queue, err := jobqueue.New(s.dbPath,
		jobqueue.WithMaxAttempts(s.maxJobAttempts),
		jobqueue.WithVisibility(s.jobTimeout*2),
	)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("job queue: %w", err)
	}
	s.queue = queue

	s.deduper = dedupe.New(dedupe.WithMaxSize(s.dedupeSize))

	fetcher := s.fetcher
	if fetcher == nil {
		ghOpts := []github.Option{github.WithToken(s.githubToken)}
		if s.githubBaseURL != "" {
			ghOpts = append(ghOpts, github.WithBaseURL(s.githubBaseURL))
		}
		fetcher = github.NewClient(ghOpts...)
	}

	llmOpts := []extract.LLMOption{}
	if s.geminiAPIKey != "" {
		gen, err := extract.NewGeminiGenerator(ctx, s.geminiAPIKey, s.geminiModel)
		if err != nil {
			s.logger.Warn(ctx, "gemini setup failed; using offline fallback", logger.Error(err))
		} else {
			llmOpts = append(llmOpts, extract.WithGenerator(gen))
		}
	}
	llm := extract.NewLLM(llmOpts...)

	var crawlOpts []crawl.Option
	if s.crawlDepth >= 0 {
		crawlOpts = append(crawlOpts, crawl.WithMaxDepth(s.crawlDepth))
	}
	if s.crawlConcurrency > 0 {
		crawlOpts = append(crawlOpts, crawl.WithConcurrency(s.crawlConcurrency))
	}
	s.crawler = crawl.NewOrchestrator(fetcher, extract.NewRegistry(llm), crawlOpts...)

	s.scorer = trust.NewScorer()

	eloOpts := []elo.RegistryOption{}
	if s.eloOpponents > 0 {
		eloOpts = append(eloOpts, elo.WithOpponents(s.eloOpponents))
	}
	if s.eloEpsilon > 0 {
		eloOpts = append(eloOpts, elo.WithRescoreEpsilon(s.eloEpsilon))
	}
	s.eloReg = elo.NewRegistry(eloOpts...)

	// Pools are in-memory; rebuild them from the persisted scores so the
	// leaderboard survives restarts.
	if err := s.rehydratePools(ctx); err != nil {
		_ = queue.Close()
		_ = store.Close()
		return fmt.Errorf("rebuild pools: %w", err)
	}

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.poolStop = cancel
	s.pool = workerpool.NewPool(s.workerCount, queue, s,
		workerpool.WithJobTimeout(s.jobTimeout))
	s.pool.Start(poolCtx)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerCount),
		logger.String("db_path", s.dbPath),
		logger.Bool("llm_online", llm.Online()),
	)
	return nil
}

// rehydratePools re-ranks every durably scored candidate into its role
// pool, in score-completion order. Ratings are re-derived rather than
// persisted: the affine init plus sampled matches over the same scores
// reproduce an equivalent ordering.
func (s *Service) rehydratePools(ctx context.Context) error {
	scored, err := s.store.ScoredCandidates(ctx)
	if err != nil {
		return err
	}
	for _, c := range scored {
		s.eloReg.Rank(c.CandidateID, c.Role, c.Score)
	}
	if len(scored) > 0 {
		s.logger.Info(ctx, "rating pools rebuilt from store",
			logger.Int("candidates", len(scored)),
		)
	}
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping ranking service")

	s.poolStop()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	if err := s.queue.Close(); err != nil {
		s.logger.Warn(ctx, "queue close failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "ranking service stopped")
}

// SeenAndRecord atomically checks if a candidate id was seen and records it
// if not. Returns true if the id was already seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord removes a candidate id from the seen list, allowing a retry.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Submit persists the profile and enqueues the crawl stage.
func (s *Service) Submit(ctx context.Context, profile model.CandidateProfile) (*model.Job, error) {
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("submit %s: %w", profile.ID, err)
	}
	job, err := s.queue.Enqueue(ctx, profile.ID, model.StageCrawl)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", profile.ID, err)
	}
	s.logger.Info(ctx, "candidate submitted",
		logger.String("candidate_id", profile.ID),
		logger.String("role", string(profile.Role)),
		logger.Int("urls", len(profile.URLs)),
		logger.String("job_id", job.ID),
	)
	return job, nil
}

// Cancel withdraws a candidate: queued jobs are dead-lettered, in-flight
// stages are interrupted best-effort and the candidate will not enter a
// role pool. Persisted partial results stay readable through the report.
func (s *Service) Cancel(ctx context.Context, candidateID string) error {
	if _, err := s.store.Profile(ctx, candidateID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("candidate %s: %w", candidateID, err)
		}
		return fmt.Errorf("cancel %s: %w", candidateID, err)
	}

	first := s.cancels.withdraw(candidateID)
	n, err := s.queue.CancelByCandidate(ctx, candidateID, cancelReason)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", candidateID, err)
	}
	if first {
		metrics.RecordCandidateCancelled()
	}
	s.logger.Info(ctx, "candidate cancelled",
		logger.String("candidate_id", candidateID),
		logger.Int("jobs_stopped", n),
	)
	return nil
}

// Job looks up pipeline status by job id.
func (s *Service) Job(ctx context.Context, id string) (*model.Job, error) {
	return s.queue.Job(ctx, id)
}

// Leaderboard reads the top entries of one role pool and decorates them
// with each candidate's strongest projects.
func (s *Service) Leaderboard(ctx context.Context, role model.Role, limit int) ([]model.LeaderboardEntry, error) {
	ranked := s.eloReg.Leaderboard(role, limit)
	out := make([]model.LeaderboardEntry, 0, len(ranked))
	for _, e := range ranked {
		entry := model.LeaderboardEntry{
			Rank:        e.Rank,
			CandidateID: e.CandidateID,
			Rating:      e.Rating,
			Score:       e.Score,
			Matches:     e.Matches,
		}
		top, err := s.store.TopProjects(ctx, e.CandidateID, topProjectCount)
		if err != nil {
			s.logger.Warn(ctx, "top projects lookup failed",
				logger.String("candidate_id", e.CandidateID), logger.Error(err))
		} else {
			entry.TopProjects = top
		}
		out = append(out, entry)
	}
	return out, nil
}

// Report assembles the full per-candidate view.
func (s *Service) Report(ctx context.Context, candidateID string) (report.Report, error) {
	profile, err := s.store.Profile(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return report.Report{}, fmt.Errorf("candidate %s: %w", candidateID, err)
		}
		return report.Report{}, fmt.Errorf("report for %s: %w", candidateID, err)
	}

	score, err := s.store.Score(ctx, candidateID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// Pipeline has not reached the score stage yet.
		score = model.CandidateScore{Unscored: true, Reason: scorePendingReason}
	case err != nil:
		return report.Report{}, fmt.Errorf("report for %s: %w", candidateID, err)
	}

	records, trustScores, err := s.store.Records(ctx, candidateID)
	if err != nil {
		return report.Report{}, fmt.Errorf("report for %s: %w", candidateID, err)
	}

	rep := report.New(profile, score, records, trustScores)
	if entry, ok := s.eloReg.Entry(candidateID); ok {
		rep = rep.WithRating(entry.Rating, entry.Matches)
	}
	return rep, nil
}

// RunStage dispatches one claimed job to its pipeline stage. Stages of a
// withdrawn candidate are rejected; a withdrawal arriving mid-stage cancels
// the stage context.
func (s *Service) RunStage(ctx context.Context, job *model.Job) error {
	if s.cancels.isWithdrawn(job.CandidateID) {
		return workerpool.Fatal(fmt.Errorf("candidate %s: %w", job.CandidateID, ErrCancelled))
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := s.cancels.track(job.CandidateID, cancel)
	defer release()

	switch job.Stage {
	case model.StageCrawl:
		return s.runCrawl(ctx, job.CandidateID)
	case model.StageScore:
		return s.runScore(ctx, job.CandidateID)
	case model.StageRank:
		return s.runRank(ctx, job.CandidateID)
	default:
		return workerpool.Fatal(fmt.Errorf("unknown stage %q", job.Stage))
	}
}

// runCrawl fetches every submitted URL, finalizes the records and persists
// them with their per-project trust scores.
func (s *Service) runCrawl(ctx context.Context, candidateID string) error {
	profile, err := s.store.Profile(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return workerpool.Fatal(fmt.Errorf("profile %s missing: %w", candidateID, err))
		}
		return fmt.Errorf("load profile %s: %w", candidateID, err)
	}

	records, err := s.crawler.Crawl(ctx, &profile)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", candidateID, err)
	}

	scores := make([]model.TrustScore, len(records))
	for i := range records {
		scores[i] = s.scorer.Score(&records[i])
		if scores[i].Confidence == model.ConfidenceLow {
			metrics.RecordLowConfidenceTrustScore()
		}
	}

	if err := s.store.SaveRecords(ctx, candidateID, records, scores); err != nil {
		return fmt.Errorf("persist records for %s: %w", candidateID, err)
	}
	return nil
}

// runScore aggregates the persisted trust scores into the candidate score.
func (s *Service) runScore(ctx context.Context, candidateID string) error {
	records, trustScores, err := s.store.Records(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("load records for %s: %w", candidateID, err)
	}

	score := s.scorer.Aggregate(records, trustScores)
	if err := s.store.SaveScore(ctx, candidateID, score); err != nil {
		return fmt.Errorf("persist score for %s: %w", candidateID, err)
	}

	if score.Unscored {
		metrics.RecordCandidateUnscored()
	} else {
		metrics.RecordCandidateScored()
	}
	return nil
}

// runRank inserts the scored candidate into their role pool. Unscored
// candidates never enter a pool.
func (s *Service) runRank(ctx context.Context, candidateID string) error {
	score, err := s.store.Score(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return workerpool.Fatal(fmt.Errorf("score for %s missing: %w", candidateID, err))
		}
		return fmt.Errorf("load score for %s: %w", candidateID, err)
	}
	if score.Unscored {
		s.logger.Info(ctx, "candidate unscored; skipping pool insertion",
			logger.String("candidate_id", candidateID),
			logger.String("reason", score.Reason),
		)
		return nil
	}

	profile, err := s.store.Profile(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", candidateID, err)
	}

	// Last check: a withdrawal racing this stage must not reach the pool.
	if s.cancels.isWithdrawn(candidateID) {
		return workerpool.Fatal(fmt.Errorf("candidate %s: %w", candidateID, ErrCancelled))
	}
	s.eloReg.Rank(candidateID, profile.Role, score.Value)
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	if depth, err := s.queue.Depth(ctx); err == nil {
		stats["queueDepth"] = depth
	}
	if n, err := s.store.CandidateCount(ctx); err == nil {
		stats["candidates"] = n
	}

	pools := make(map[string]int)
	for role, n := range s.eloReg.PoolSizes() {
		pools[string(role)] = n
	}
	stats["pools"] = pools
	stats["matchesPlayed"] = s.eloReg.MatchesPlayed()
	stats["dedupeSize"] = s.Size()
	return stats
}
