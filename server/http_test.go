package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	repoarchive "github.com/wolfeidau/repo-archive"
	"github.com/wolfeidau/repo-archive/archive"
	"golang.org/x/sync/semaphore"
)

const testGitArchive = `https://github.com/rust-lang/rust.git,/mirror/rust.git,abc123,2025-01-01 12:00:00,never
git://git.kernel.org/pub/scm/linux/kernel/git/stable/linux-stable.git,/mirror/linux-stable.git,def456,2025-02-01 08:00:00,2025-02-02 09:00:00
`

const testHuggingfaceArchive = "meta-llama/Llama-2-7b-hf\nbert-base-uncased\n"

type fixture struct {
	dir     string
	gitPath string
	hfPath  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		gitPath: filepath.Join(dir, "git.csv"),
		hfPath:  filepath.Join(dir, "hf.txt"),
	}
	require.NoError(t, os.WriteFile(f.gitPath, []byte(testGitArchive), 0o644))
	require.NoError(t, os.WriteFile(f.hfPath, []byte(testHuggingfaceArchive), 0o644))
	return f
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code, "all responses use the same status")
	return rec
}

func TestServer_HasGitRepo(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath, MaxInFlight: 1})

	rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `{"url":"github.com/rust-lang/rust"}`)
	require.JSONEq(t, `{
		"exists": true,
		"existing": ["https://github.com/rust-lang/rust.git"],
		"metadata": {
			"url": "https://github.com/rust-lang/rust.git",
			"path": "/mirror/rust.git",
			"commit_hash": "abc123",
			"commit_date": "2025-01-01 12:00:00",
			"last_fetch": "never"
		}
	}`, rec.Body.String())
}

func TestServer_HasGitRepo_ExactGitScheme(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	const u = "git://git.kernel.org/pub/scm/linux/kernel/git/stable/linux-stable.git"
	rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `{"url":"`+u+`"}`)

	var got struct {
		Exists   bool     `json:"exists"`
		Existing []string `json:"existing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Exists)
	require.Equal(t, []string{u}, got.Existing)
}

func TestServer_HasGitRepo_Missing(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `{"url":"https://github.com/rust-lang/miri.git"}`)
	require.JSONEq(t, `{"exists":false,"existing":[]}`, rec.Body.String())
}

func TestServer_HasGitRepo_ParseError(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `not json`)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "json parse error", got["error"])
	require.NotEmpty(t, got["details"])
}

func TestServer_HasHuggingfaceRepo(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath, HuggingfaceArchivePath: f.hfPath})

	a := do(t, s.Handler(), http.MethodPost, "/has_huggingface_repo", `{"repo":"Meta-Llama/Llama-2-7b-HF"}`)
	b := do(t, s.Handler(), http.MethodPost, "/has_huggingface_repo", `{"repo":"meta-llama/llama-2-7b-hf"}`)
	require.JSONEq(t, `{"exists":true}`, a.Body.String())
	require.JSONEq(t, a.Body.String(), b.Body.String())

	c := do(t, s.Handler(), http.MethodPost, "/has_huggingface_repo", `{"repo":"org/unknown"}`)
	require.JSONEq(t, `{"exists":false}`, c.Body.String())
}

func TestServer_HasHuggingfaceRepo_NotConfigured(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	rec := do(t, s.Handler(), http.MethodPost, "/has_huggingface_repo", `{"repo":"meta-llama/Llama-2-7b-hf"}`)
	require.JSONEq(t, `{"error":"instance started without huggingface archive provided"}`, rec.Body.String())
}

func TestServer_InvalidEndpoint(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/nope"},
		{http.MethodGet, "/"},
		{http.MethodPost, "/has_git_repo/extra"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/stats"},
		{http.MethodPost, "//has_git_repo"},
		{http.MethodPost, "/x/../has_git_repo"},
		{http.MethodPost, "/has_git_repo/"},
		{http.MethodPost, "/has_git_repo?x=1"},
		{http.MethodPost, "/has_huggingface_repo?"},
		{http.MethodGet, "/./health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, s.Handler(), tt.method, tt.path, `{"url":"github.com/rust-lang/rust"}`)
			require.JSONEq(t, `{"error":"invalid endpoint"}`, rec.Body.String())
		})
	}
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Stats(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath, HuggingfaceArchivePath: f.hfPath})

	rec := do(t, s.Handler(), http.MethodGet, "/stats", "")

	var got StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, f.gitPath, got.Git.Path)
	require.Equal(t, 2, got.Git.Entries)
	require.Equal(t, repoarchive.DigestBytes([]byte(testGitArchive)), got.Git.Digest)
	require.False(t, got.Git.LoadedAt.IsZero())
	require.NotNil(t, got.Huggingface)
	require.Equal(t, 2, got.Huggingface.Entries)
}

func TestServer_StatsWithoutHuggingface(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	rec := do(t, s.Handler(), http.MethodGet, "/stats", "")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw, "git")
	require.NotContains(t, raw, "huggingface")
}

func TestNew_Errors(t *testing.T) {
	f := newFixture(t)
	malformed := filepath.Join(f.dir, "bad.csv")
	require.NoError(t, os.WriteFile(malformed, []byte("only,three,fields\n"), 0o644))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no git archive", Config{}},
		{"missing git archive", Config{GitArchivePath: filepath.Join(f.dir, "missing.csv")}},
		{"malformed git archive", Config{GitArchivePath: malformed}},
		{"missing huggingface archive", Config{GitArchivePath: f.gitPath, HuggingfaceArchivePath: filepath.Join(f.dir, "missing.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			s, err := New(context.Background(), tt.cfg)
			require.Error(t, err)
			require.Nil(t, s)
		})
	}
}

func TestServer_ReloadAll(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath, HuggingfaceArchivePath: f.hfPath})

	require.NoError(t, os.WriteFile(f.hfPath, []byte("org/new-model\n"), 0o644))
	require.NoError(t, s.ReloadAll(context.Background()))

	rec := do(t, s.Handler(), http.MethodPost, "/has_huggingface_repo", `{"repo":"org/new-model"}`)
	require.JSONEq(t, `{"exists":true}`, rec.Body.String())
}

func TestServer_ReloadAllKeepsStaleIndexOnFailure(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath})

	require.NoError(t, os.WriteFile(f.gitPath, []byte("broken\n"), 0o644))
	err := s.ReloadAll(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, archive.ErrMalformedLine)

	rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `{"url":"github.com/rust-lang/rust"}`)
	var got struct {
		Exists bool `json:"exists"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Exists)
}

func TestServer_WatchReloadsIndex(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, Config{GitArchivePath: f.gitPath, Watch: true})
	require.Len(t, s.watchers, 1)

	for _, w := range s.watchers {
		require.NoError(t, w.Start(context.Background()))
		t.Cleanup(w.Stop)
	}

	tmp := f.gitPath + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("https://github.com/rust-lang/miri.git,/m,h,d,f\n"), 0o644))
	require.NoError(t, os.Rename(tmp, f.gitPath))

	require.Eventually(t, func() bool {
		rec := do(t, s.Handler(), http.MethodPost, "/has_git_repo", `{"url":"github.com/rust-lang/miri"}`)
		return strings.Contains(rec.Body.String(), `"exists":true`)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_LimiterSerializesRequests(t *testing.T) {
	s := &Server{}
	s.config.MaxInFlight = 1
	s.limiter = semaphore.NewWeighted(1)

	var inFlight, peak atomic.Int32
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	})
	h := s.limit(slow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/has_git_repo", nil))
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, peak.Load())
}

func TestServer_LimiterAbandonedRequestIsTagged(t *testing.T) {
	var logs bytes.Buffer
	s := &Server{
		logger:  slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		limiter: semaphore.NewWeighted(1),
	}
	require.NoError(t, s.limiter.Acquire(context.Background(), 1))
	defer s.limiter.Release(1)

	var called atomic.Bool
	h := s.loggingMiddleware(s.limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, "/has_git_repo", strings.NewReader(`{"url":"x"}`)).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.False(t, called.Load())
	require.Contains(t, logs.String(), "request abandoned while queued")
	require.Contains(t, logs.String(), "lookup_result=error")
}

func TestDeriveProtocol(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "internal"},
		{"/stats", "internal"},
		{"/metrics", "internal"},
		{"/has_git_repo", "git"},
		{"/has_huggingface_repo", "huggingface"},
		{"/other", "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, deriveProtocol(tt.path), tt.path)
	}
}
