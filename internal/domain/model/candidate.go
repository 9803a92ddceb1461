// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Role identifies the ranking pool a candidate competes in.
type Role string

// Supported role pools. Ratings are never comparable across pools.
const (
	RoleFrontend   Role = "frontend"
	RoleBackend    Role = "backend"
	RoleML         Role = "ml"
	RoleBlockchain Role = "blockchain"
	RoleGeneral    Role = "general"
)

// ErrUnknownRole is returned for role tags outside the supported set.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole validates a role tag. Empty input maps to RoleGeneral.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleFrontend:
		return RoleFrontend, nil
	case RoleBackend:
		return RoleBackend, nil
	case RoleML:
		return RoleML, nil
	case RoleBlockchain:
		return RoleBlockchain, nil
	case RoleGeneral, "":
		return RoleGeneral, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// CandidateProfile is the immutable unit of submission: an identifier, the
// candidate's project URLs (normalized, deduplicated, submission order
// preserved) and the role pool they compete in. Profiles are created at
// ingestion and retained for audit; they are never mutated afterwards.
type CandidateProfile struct {
	ID          string    `json:"id"`
	URLs        []string  `json:"urls"`
	Role        Role      `json:"role"`
	SubmittedAt time.Time `json:"submitted_at"`

	// OtherURLs holds non-repository links found during resume extraction.
	// They are never crawled, only surfaced in the report.
	OtherURLs []string `json:"other_urls,omitempty"`
}

// NewCandidateProfile builds a profile from raw URLs. Invalid URLs are
// rejected; duplicates (after normalization) are collapsed keeping first
// position.
func NewCandidateProfile(id string, rawURLs []string, role Role) (CandidateProfile, error) {
	if strings.TrimSpace(id) == "" {
		return CandidateProfile{}, errors.New("candidate id is required")
	}

	seen := make(map[string]struct{}, len(rawURLs))
	urls := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		n, err := NormalizeURL(raw)
		if err != nil {
			return CandidateProfile{}, fmt.Errorf("url %q: %w", raw, err)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		urls = append(urls, n)
	}

	return CandidateProfile{
		ID:          id,
		URLs:        urls,
		Role:        role,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// NormalizeURL canonicalizes a project URL for deduplication: scheme and
// host lowercased, default ports, trailing slashes and a trailing ".git"
// stripped. Only http(s) URLs are accepted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Path = strings.TrimSuffix(u.Path, ".git")
	return u.String(), nil
}
