package github_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newClient(baseURL string, opts ...github.Option) *github.Client {
	defaults := []github.Option{
		github.WithBaseURL(baseURL),
		github.WithRateLimit(1000, 1000),
		github.WithMaxAttempts(1),
	}
	return github.NewClient(append(defaults, opts...)...)
}

func TestParseRepoURL(t *testing.T) {
	Convey("Given GitHub project URLs", t, func() {
		Convey("Then owner and repo are extracted", func() {
			owner, repo, ok := github.ParseRepoURL("https://github.com/alice/widget")
			So(ok, ShouldBeTrue)
			So(owner, ShouldEqual, "alice")
			So(repo, ShouldEqual, "widget")
		})

		Convey("And deep links resolve to the base repository", func() {
			owner, repo, ok := github.ParseRepoURL("https://github.com/alice/widget/pull/42")
			So(ok, ShouldBeTrue)
			So(owner, ShouldEqual, "alice")
			So(repo, ShouldEqual, "widget")
		})

		Convey("And .git suffixes are stripped", func() {
			_, repo, ok := github.ParseRepoURL("https://github.com/alice/widget.git")
			So(ok, ShouldBeTrue)
			So(repo, ShouldEqual, "widget")
		})

		Convey("And non-repository URLs do not match", func() {
			_, _, ok := github.ParseRepoURL("https://github.com/alice")
			So(ok, ShouldBeFalse)
			_, _, ok = github.ParseRepoURL("https://gitlab.com/alice/widget")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestRepoFetch(t *testing.T) {
	Convey("Given a fake API server", t, func() {
		var gotAuth atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/repos/alice/widget":
				gotAuth.Store(r.Header.Get("Authorization"))
				w.Write([]byte(`{"name":"widget","full_name":"alice/widget","stargazers_count":120,"forks_count":7,"fork":false,"language":"Go"}`))
			case "/repos/alice/widget/readme":
				content := base64.StdEncoding.EncodeToString([]byte("# Widget\n\nA widget."))
				w.Write([]byte(`{"content":"` + content + `","encoding":"base64"}`))
			case "/repos/alice/widget/contributors":
				w.Write([]byte(`[{"login":"alice","contributions":80},{"login":"bob","contributions":20}]`))
			case "/repos/alice/widget/languages":
				w.Write([]byte(`{"Go":120000,"Makefile":500}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()
		ctx := context.Background()

		Convey("When repository metadata is fetched with a token", func() {
			client := newClient(srv.URL, github.WithToken("secret"))
			repo, err := client.Repo(ctx, "alice", "widget")

			Convey("Then the metadata and auth header are correct", func() {
				So(err, ShouldBeNil)
				So(repo.FullName, ShouldEqual, "alice/widget")
				So(repo.Stars, ShouldEqual, 120)
				So(repo.Language, ShouldEqual, "Go")
				So(gotAuth.Load(), ShouldEqual, "token secret")
			})
		})

		Convey("When the README is fetched", func() {
			client := newClient(srv.URL)
			readme, err := client.Readme(ctx, "alice", "widget")

			Convey("Then the base64 payload is decoded", func() {
				So(err, ShouldBeNil)
				So(readme, ShouldStartWith, "# Widget")
			})
		})

		Convey("When contributors are fetched", func() {
			client := newClient(srv.URL)
			contribs, err := client.Contributors(ctx, "alice", "widget")

			So(err, ShouldBeNil)
			So(contribs, ShouldHaveLength, 2)
			So(contribs[0].Login, ShouldEqual, "alice")
			So(contribs[0].Contributions, ShouldEqual, 80)
		})

		Convey("When languages are fetched", func() {
			client := newClient(srv.URL)
			langs, err := client.Languages(ctx, "alice", "widget")

			So(err, ShouldBeNil)
			So(langs["Go"], ShouldEqual, 120000)
		})

		Convey("When the repository does not exist", func() {
			client := newClient(srv.URL)
			_, err := client.Repo(ctx, "alice", "ghost")

			Convey("Then the failure is classified as not found", func() {
				So(err, ShouldNotBeNil)
				So(github.KindOf(err), ShouldEqual, github.KindNotFound)
				var fe *github.FetchError
				So(errors.As(err, &fe), ShouldBeTrue)
				So(fe.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestFailureClassification(t *testing.T) {
	Convey("Given servers with different failure modes", t, func() {
		ctx := context.Background()

		Convey("When the API rate limit is exhausted", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusForbidden)
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Repo(ctx, "a", "b")
			So(github.KindOf(err), ShouldEqual, github.KindRateLimited)
			So(github.KindRateLimited.Retryable(), ShouldBeTrue)
		})

		Convey("When access is denied without rate limiting", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "42")
				w.WriteHeader(http.StatusForbidden)
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Repo(ctx, "a", "b")
			So(github.KindOf(err), ShouldEqual, github.KindForbidden)
			So(github.KindForbidden.Retryable(), ShouldBeFalse)
		})

		Convey("When the server errors transiently", func() {
			var calls atomic.Int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.Write([]byte(`{"name":"b","full_name":"a/b"}`))
			}))
			defer srv.Close()

			Convey("Then the request is retried and succeeds", func() {
				client := newClient(srv.URL, github.WithMaxAttempts(3))
				repo, err := client.Repo(ctx, "a", "b")
				So(err, ShouldBeNil)
				So(repo.FullName, ShouldEqual, "a/b")
				So(calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When a terminal failure occurs", func() {
			var calls atomic.Int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusNotFound)
			}))
			defer srv.Close()

			Convey("Then no retry is attempted", func() {
				client := newClient(srv.URL, github.WithMaxAttempts(3))
				_, err := client.Repo(ctx, "a", "b")
				So(github.KindOf(err), ShouldEqual, github.KindNotFound)
				So(calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestResponseCache(t *testing.T) {
	Convey("Given a counting server", t, func() {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"name":"widget","full_name":"alice/widget"}`))
		}))
		defer srv.Close()
		ctx := context.Background()

		Convey("When the same repository is fetched twice", func() {
			client := newClient(srv.URL)
			first, err1 := client.Repo(ctx, "alice", "widget")
			second, err2 := client.Repo(ctx, "alice", "widget")

			Convey("Then the second read is served from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.FullName, ShouldEqual, second.FullName)
				So(calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestExists(t *testing.T) {
	Convey("Given a plain web server", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/alive" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		ctx := context.Background()
		client := newClient(srv.URL)

		Convey("Then reachable URLs pass the existence check", func() {
			So(client.Exists(ctx, srv.URL+"/alive"), ShouldBeNil)
		})

		Convey("And missing URLs are reported as not found", func() {
			err := client.Exists(ctx, srv.URL+"/gone")
			So(github.KindOf(err), ShouldEqual, github.KindNotFound)
		})
	})
}
