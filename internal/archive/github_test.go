package archive

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contentsPut is the PUT body the contents API receives.
type contentsPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// fakeContents emulates the contents API for one file.
type fakeContents struct {
	mu      sync.Mutex
	sha     string
	content []byte
	puts    []contentsPut
	auth    []string
}

func (f *fakeContents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	if r.URL.Path != "/repos/owner/data/contents/air/readings.csv" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if f.sha == "" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sha": f.sha})
	case http.MethodPut:
		var req contentsPut
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SHA != f.sha {
			http.Error(w, `{"message":"sha mismatch"}`, http.StatusConflict)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, req)
		f.content = raw
		f.sha = "sha" + string(rune('0'+len(f.puts)))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": f.sha}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newGitHub(t *testing.T, srv *httptest.Server) *GitHub {
	t.Helper()
	g, err := NewGitHub(GitHubConfig{
		BaseURL: srv.URL + "/",
		Token:   "tok",
		Repo:    "owner/data",
		Path:    "air/readings.csv",
	})
	require.NoError(t, err)
	return g
}

func TestGitHub_CreateThenUpdate(t *testing.T) {
	fake := &fakeContents{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newGitHub(t, srv)

	sha, err := g.Put(t.Context(), []byte("a,b\n"), "first")
	require.NoError(t, err)
	assert.Equal(t, "sha1", sha)

	sha, err = g.Put(t.Context(), []byte("a,b\n1,2\n"), "second")
	require.NoError(t, err)
	assert.Equal(t, "sha2", sha)

	require.Len(t, fake.puts, 2)
	assert.Empty(t, fake.puts[0].SHA)
	assert.Equal(t, "sha1", fake.puts[1].SHA)
	assert.Equal(t, "second", fake.puts[1].Message)
	assert.Equal(t, "a,b\n1,2\n", string(fake.content))
	for _, a := range fake.auth {
		assert.Equal(t, "Bearer tok", a)
	}
}

func TestGitHub_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newGitHub(t, srv).Put(t.Context(), []byte("x"), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGitHub_BranchSentOnBothCalls(t *testing.T) {
	var refs []string
	var branch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			refs = append(refs, r.URL.Query().Get("ref"))
			http.NotFound(w, r)
			return
		}
		var req contentsPut
		_ = json.NewDecoder(r.Body).Decode(&req)
		branch = req.Branch
		_, _ = w.Write([]byte(`{"content":{"sha":"x"}}`))
	}))
	defer srv.Close()

	g, err := NewGitHub(GitHubConfig{BaseURL: srv.URL, Repo: "o/r", Path: "f.csv", Branch: "data"})
	require.NoError(t, err)
	_, err = g.Put(t.Context(), []byte("x"), "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, refs)
	assert.Equal(t, "data", branch)
	assert.Equal(t, "github:o/r/f.csv@data", g.Target())
}

func TestGitHub_CurrentSHA(t *testing.T) {
	fake := &fakeContents{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	g := newGitHub(t, srv)

	_, err := g.CurrentSHA(t.Context())
	assert.ErrorIs(t, err, ErrNotFound)

	fake.mu.Lock()
	fake.sha = "abc"
	fake.mu.Unlock()
	sha, err := g.CurrentSHA(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "abc", sha)
}

func TestNewGitHub_Validation(t *testing.T) {
	_, err := NewGitHub(GitHubConfig{Repo: "norepo", Path: "f"})
	assert.Error(t, err)
	_, err = NewGitHub(GitHubConfig{Repo: "o/r"})
	assert.Error(t, err)
	_, err = NewGitHub(GitHubConfig{Repo: "/r", Path: "f"})
	assert.Error(t, err)
}
