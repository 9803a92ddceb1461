// Package resume pulls project links out of free-form resume text.
// Submissions may carry a resume instead of an explicit URL list; the
// extractor finds GitHub repository links (reduced to their base
// owner/repo URL) and keeps everything else aside as unverifiable.
package resume

import (
	"regexp"
	"strings"
)

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s\]]+`)
	repoPattern = regexp.MustCompile(`^(https?://github\.com/[^/\s)]+/[^/\s)]+)`)
)

// Extraction separates repository links from everything else found in the
// text. Both lists are deduplicated and keep first-appearance order.
type Extraction struct {
	RepoURLs  []string
	OtherURLs []string
}

// Empty reports whether the extraction found no links at all.
func (e Extraction) Empty() bool {
	return len(e.RepoURLs) == 0 && len(e.OtherURLs) == 0
}

// ExtractURLs scans text for links. A GitHub URL that points into a
// repository (a file, a pull request, a tree path) is reduced to the base
// repository URL so the crawler fetches the repo once.
func ExtractURLs(text string) Extraction {
	var out Extraction
	seenRepos := make(map[string]struct{})
	seenOther := make(map[string]struct{})

	for _, raw := range urlPattern.FindAllString(text, -1) {
		// Markdown and prose wrap links in brackets and punctuation.
		clean := strings.TrimRight(raw, ").,;:!?'\"")

		if m := repoPattern.FindStringSubmatch(clean); m != nil {
			repo := strings.TrimSuffix(m[1], ".git")
			if _, dup := seenRepos[repo]; dup {
				continue
			}
			seenRepos[repo] = struct{}{}
			out.RepoURLs = append(out.RepoURLs, repo)
			continue
		}

		if _, dup := seenOther[clean]; dup {
			continue
		}
		seenOther[clean] = struct{}{}
		out.OtherURLs = append(out.OtherURLs, clean)
	}
	return out
}
