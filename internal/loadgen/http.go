package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/credrank/pkg/logger"
)

// client is a thin JSON client over the credrank HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) post(ctx context.Context, path string, in, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) checkHealth(ctx context.Context) error {
	status, err := c.get(ctx, "/healthz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected health status %d", status)
	}
	return nil
}

// ack mirrors the submission acknowledgement body.
type ack struct {
	Status      string `json:"status"`
	Duplicate   bool   `json:"duplicate"`
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

// jobStatus mirrors the job status body.
type jobStatus struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// boardEntry mirrors one leaderboard row.
type boardEntry struct {
	Rank        int     `json:"rank"`
	CandidateID string  `json:"candidate_id"`
	Rating      float64 `json:"rating"`
	Score       float64 `json:"score"`
	Matches     int     `json:"matches"`
}

func (c *client) getJob(ctx context.Context, id string) (*jobStatus, error) {
	var job jobStatus
	status, err := c.get(ctx, "/jobs/"+id, &job)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("job %s: status %d", id, status)
	}
	return &job, nil
}

func (c *client) getLeaderboard(ctx context.Context, role string, limit int) ([]boardEntry, error) {
	var entries []boardEntry
	path := fmt.Sprintf("/leaderboard?role=%s&limit=%d", url.QueryEscape(role), limit)
	status, err := c.get(ctx, path, &entries)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("leaderboard %s: status %d", role, status)
	}
	return entries, nil
}

// submitAll pushes every submission through a bounded worker pool and
// returns the job ids of accepted candidates.
func submitAll(ctx context.Context, c *client, config *Config, subs []submission, stats *Stats) ([]string, error) {
	var (
		accepted   int64
		duplicates int64
		failed     int64
	)

	jobs := make([]string, len(subs))
	work := make(chan int, config.Workers*2)
	var wg sync.WaitGroup

	for w := 0; w < config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					return
				}
				var resp ack
				status, err := c.post(ctx, "/candidates", subs[i], &resp)
				switch {
				case err != nil || status >= http.StatusInternalServerError:
					atomic.AddInt64(&failed, 1)
				case status == http.StatusAccepted:
					atomic.AddInt64(&accepted, 1)
					jobs[i] = resp.JobID
				case resp.Duplicate:
					atomic.AddInt64(&duplicates, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	for i := range subs {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return nil, ctx.Err()
		case work <- i:
		}
	}
	close(work)
	wg.Wait()

	stats.Accepted = int(atomic.LoadInt64(&accepted))
	stats.Duplicates = int(atomic.LoadInt64(&duplicates))
	stats.Failed = int(atomic.LoadInt64(&failed))

	logger.Get().Named("loadgen").Info(ctx, "submission finished",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
	)

	out := make([]string, 0, len(jobs))
	for _, id := range jobs {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}
