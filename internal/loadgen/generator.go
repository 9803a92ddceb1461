package loadgen

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// roles mirrors the role pools the service supports.
var roles = []string{"frontend", "backend", "ml", "blockchain", "general"}

// Synthetic repository name parts. The crawler will classify most of these
// as unreachable, which is fine: the load run exercises the full pipeline
// including the failure paths.
var (
	owners = []string{"octocat", "torvalds", "rust-lang", "golang", "kubernetes"}
	repos  = []string{"hello-world", "linux", "rust", "go", "kubernetes", "website"}
)

// maxReposPerCandidate bounds the synthetic profile size.
const maxReposPerCandidate = 3

// submission mirrors the POST /candidates request body.
type submission struct {
	CandidateID string   `json:"candidate_id"`
	Role        string   `json:"role"`
	URLs        []string `json:"urls"`
}

func randomInt(n int) int {
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// generateSubmissions creates unique candidates spread across role pools.
func generateSubmissions(n int) []submission {
	out := make([]submission, n)
	for i := range out {
		urlCount := 1 + randomInt(maxReposPerCandidate)
		urls := make([]string, 0, urlCount)
		seen := make(map[string]struct{}, urlCount)
		for len(urls) < urlCount {
			u := fmt.Sprintf("https://github.com/%s/%s",
				owners[randomInt(len(owners))], repos[randomInt(len(repos))])
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		out[i] = submission{
			CandidateID: "load-" + uuid.New().String(),
			Role:        roles[i%len(roles)],
			URLs:        urls,
		}
	}
	return out
}
