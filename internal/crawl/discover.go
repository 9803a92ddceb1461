package crawl

import (
	"regexp"

	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/internal/domain/model"
)

// linkPattern matches candidate repository links inside README or
// description text.
var linkPattern = regexp.MustCompile(`https?://github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+`)

// maxDiscoveredLinks caps link expansion per record so a link-farm README
// cannot blow up the frontier.
const maxDiscoveredLinks = 10

// discoverLinks extracts repository URLs from free text, normalized and
// deduplicated in order of first appearance.
func discoverLinks(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range linkPattern.FindAllString(text, -1) {
		if _, _, ok := github.ParseRepoURL(raw); !ok {
			continue
		}
		norm, err := model.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
		if len(out) >= maxDiscoveredLinks {
			break
		}
	}
	return out
}
