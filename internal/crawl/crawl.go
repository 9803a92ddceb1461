// Package crawl implements the orchestrator that turns a candidate profile
// into finalized ProjectRecords: frontier-driven BFS over project URLs with
// a per-candidate visited set, bounded concurrency and per-URL failure
// isolation.
package crawl

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/internal/extract"
	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Default orchestrator configuration constants.
const (
	defaultMaxDepth    = 2
	defaultConcurrency = 4
)

// Fetcher is the slice of the GitHub client the orchestrator depends on.
type Fetcher interface {
	Repo(ctx context.Context, owner, repo string) (*github.Repo, error)
	Readme(ctx context.Context, owner, repo string) (string, error)
	Contributors(ctx context.Context, owner, repo string) ([]github.Contributor, error)
	Exists(ctx context.Context, rawURL string) error
}

// Orchestrator crawls every project URL of a profile up to a depth budget.
type Orchestrator struct {
	fetcher     Fetcher
	registry    *extract.Registry
	maxDepth    int
	concurrency int
	log         logger.Logger
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithMaxDepth sets the crawl depth budget. 0 means identity resolution only.
func WithMaxDepth(d int) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.maxDepth = d
		}
	}
}

// WithConcurrency bounds the number of in-flight URL crawls per candidate.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewOrchestrator creates an orchestrator over the given fetcher and
// extractor registry.
func NewOrchestrator(fetcher Fetcher, registry *extract.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:     fetcher,
		registry:    registry,
		maxDepth:    defaultMaxDepth,
		concurrency: defaultConcurrency,
		log:         logger.Named("crawl"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// frontierItem is one URL waiting to be crawled. Depth 0 is identity
// resolution only, depth 1 covers metadata and README, depth 2+ marks URLs
// reached through link expansion.
type frontierItem struct {
	url   string
	depth int
}

// Crawl resolves every project URL of the profile into a finalized record.
// Per-URL failures are captured in the record's fetch status; the only error
// returned is context cancellation.
func (o *Orchestrator) Crawl(ctx context.Context, profile *model.CandidateProfile) ([]model.ProjectRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCrawlDuration(time.Since(start).Seconds())
	}()

	seedDepth := 1
	if o.maxDepth == 0 {
		seedDepth = 0
	}

	visited := make(map[string]struct{}, len(profile.URLs))
	var frontier []frontierItem
	for _, u := range profile.URLs {
		key := visitKey(u)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		frontier = append(frontier, frontierItem{url: u, depth: seedDepth})
	}

	var records []model.ProjectRecord
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("crawl cancelled: %w", err)
		}

		waveRecords, discovered := o.crawlWave(ctx, frontier)
		records = append(records, waveRecords...)

		frontier = frontier[:0]
		for _, item := range discovered {
			if item.depth > o.maxDepth {
				continue
			}
			key := visitKey(item.url)
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			frontier = append(frontier, item)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl cancelled: %w", err)
	}
	return records, nil
}

// crawlWave processes one frontier level with bounded concurrency, keeping
// the input ordering of records.
func (o *Orchestrator) crawlWave(ctx context.Context, wave []frontierItem) ([]model.ProjectRecord, []frontierItem) {
	results := make([]model.ProjectRecord, len(wave))
	links := make([][]string, len(wave))

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for i, item := range wave {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item frontierItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], links[i] = o.crawlOne(ctx, item)
		}(i, item)
	}
	wg.Wait()

	var discovered []frontierItem
	for i, urls := range links {
		for _, u := range urls {
			discovered = append(discovered, frontierItem{url: u, depth: wave[i].depth + 1})
		}
	}
	return results, discovered
}

// crawlOne resolves a single URL into a record and, when budget remains,
// the links discovered in its README and description.
func (o *Orchestrator) crawlOne(ctx context.Context, item frontierItem) (model.ProjectRecord, []string) {
	defer metrics.RecordProjectCrawled()

	rec := model.ProjectRecord{
		URL:                item.url,
		Originality:        model.OriginalityUnknown,
		DepthReached:       item.depth,
		ForkDiffRatio:      -1,
		OwnerContributions: -1,
		TotalContributions: -1,
	}

	owner, repo, ok := github.ParseRepoURL(item.url)
	if !ok {
		// Not a repository URL on the source host; record reachability only.
		o.resolveIdentity(ctx, &rec)
		return o.finalize(ctx, rec), nil
	}
	rec.Owner, rec.Repo = owner, repo

	if item.depth == 0 {
		o.resolveIdentity(ctx, &rec)
		return o.finalize(ctx, rec), nil
	}

	meta, err := o.fetcher.Repo(ctx, owner, repo)
	if err != nil {
		rec.FetchStatus = model.FetchFailed
		rec.FailureKind = failureKind(err)
		o.log.Debug(ctx, "metadata fetch failed",
			logger.String("url", item.url), logger.Error(err))
		return o.finalize(ctx, rec), nil
	}
	o.applyMetadata(&rec, meta)

	complete := o.fetchContent(ctx, &rec, owner, repo)
	if complete {
		rec.FetchStatus = model.FetchOk
	} else {
		rec.FetchStatus = model.FetchPartialOk
	}

	var discovered []string
	if item.depth < o.maxDepth {
		discovered = discoverLinks(rec.Readme + "\n" + rec.Description)
	}
	return o.finalize(ctx, rec), discovered
}

// resolveIdentity records whether the URL is reachable at all.
func (o *Orchestrator) resolveIdentity(ctx context.Context, rec *model.ProjectRecord) {
	if err := o.fetcher.Exists(ctx, rec.URL); err != nil {
		rec.FetchStatus = model.FetchFailed
		rec.FailureKind = failureKind(err)
		return
	}
	rec.FetchStatus = model.FetchPartialOk
}

// applyMetadata copies repository metadata into the record and classifies
// originality from the fork and template markers.
func (o *Orchestrator) applyMetadata(rec *model.ProjectRecord, meta *github.Repo) {
	rec.Stars = meta.Stars
	rec.Forks = meta.Forks
	rec.Topics = meta.Topics
	rec.Description = strings.TrimSpace(meta.Description)
	rec.Language = meta.Language
	rec.PushedAt = meta.PushedAt

	switch {
	case meta.Fork:
		rec.Originality = model.OriginalityForked
		if meta.Parent != nil {
			rec.ParentFullName = meta.Parent.FullName
			rec.ParentDescription = strings.TrimSpace(meta.Parent.Description)
			if meta.Parent.Size > 0 {
				delta := math.Abs(float64(meta.Size - meta.Parent.Size))
				rec.ForkDiffRatio = math.Min(delta/float64(meta.Parent.Size), 1)
			}
		}
	case meta.IsTemplate:
		rec.Originality = model.OriginalityTemplated
	default:
		rec.Originality = model.OriginalityOriginal
	}
}

// fetchContent pulls README and contributor history. Missing docs or history
// degrade the record, never fail it. Reports whether everything was fetched.
func (o *Orchestrator) fetchContent(ctx context.Context, rec *model.ProjectRecord, owner, repo string) bool {
	complete := true

	readme, err := o.fetcher.Readme(ctx, owner, repo)
	if err != nil {
		complete = false
	} else {
		rec.Readme = readme
		rec.HasReadme = readme != ""
	}

	contributors, err := o.fetcher.Contributors(ctx, owner, repo)
	if err != nil {
		complete = false
	} else {
		rec.OwnerContributions = 0
		rec.TotalContributions = 0
		for _, c := range contributors {
			rec.TotalContributions += c.Contributions
			if strings.EqualFold(c.Login, owner) {
				rec.OwnerContributions += c.Contributions
			}
		}
	}
	return complete
}

// finalize runs the extractor set and stamps the record immutable.
func (o *Orchestrator) finalize(ctx context.Context, rec model.ProjectRecord) model.ProjectRecord {
	res := o.registry.Apply(ctx, &rec)
	rec.Signals = res.Signals
	rec.Flags = res.Flags
	rec.Summary = res.Summary
	rec.FinalizedAt = time.Now().UTC()
	return rec
}

func failureKind(err error) model.ErrorKind {
	return model.ErrorKind(github.KindOf(err))
}

func visitKey(raw string) string {
	if norm, err := model.NormalizeURL(raw); err == nil {
		return norm
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
