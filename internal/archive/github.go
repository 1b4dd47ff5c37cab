package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

const DefaultGitHubAPI = "https://api.github.com"

// ErrNotFound is returned by the contents API for a missing file.
var ErrNotFound = errors.New("not found")

type GitHubConfig struct {
	BaseURL string
	Token   string
	// Repo is "owner/name".
	Repo   string
	Path   string
	Branch string
	// Timeout bounds each request; zero means 30s.
	Timeout time.Duration
}

// GitHub writes one file through the repository contents API.
type GitHub struct {
	cfg    GitHubConfig
	owner  string
	repo   string
	path   string
	client *github.Client
}

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid github repo %q (want owner/name)", cfg.Repo)
	}
	path := strings.TrimLeft(cfg.Path, "/")
	if path == "" {
		return nil, fmt.Errorf("github path is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGitHubAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := github.NewClient(&http.Client{Timeout: cfg.Timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid github api url %q: %w", cfg.BaseURL, err)
	}
	client.BaseURL = base

	return &GitHub{cfg: cfg, owner: owner, repo: repo, path: path, client: client}, nil
}

// Target names the file this uploader writes, for archive marks.
func (g *GitHub) Target() string {
	t := "github:" + g.cfg.Repo + "/" + g.cfg.Path
	if g.cfg.Branch != "" {
		t += "@" + g.cfg.Branch
	}
	return t
}

// CurrentSHA returns the blob sha of the existing file, or ErrNotFound.
func (g *GitHub) CurrentSHA(ctx context.Context) (string, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, g.path,
		&github.RepositoryContentGetOptions{Ref: g.cfg.Branch})
	if err != nil {
		return "", apiError(http.MethodGet, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", g.path)
	}
	return file.GetSHA(), nil
}

// Put creates or replaces the file with content and returns the new sha.
func (g *GitHub) Put(ctx context.Context, content []byte, message string) (string, error) {
	sha, err := g.CurrentSHA(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read %s: %w", g.cfg.Path, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
	}
	if g.cfg.Branch != "" {
		opts.Branch = github.Ptr(g.cfg.Branch)
	}

	var resp *github.RepositoryContentResponse
	if sha == "" {
		resp, _, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, g.path, opts)
	} else {
		opts.SHA = github.Ptr(sha)
		resp, _, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, g.path, opts)
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", g.cfg.Path, apiError(http.MethodPut, err))
	}
	if resp == nil || resp.Content == nil {
		return "", fmt.Errorf("write %s: response has no content", g.cfg.Path)
	}
	return resp.Content.GetSHA(), nil
}

// apiError maps a 404 to ErrNotFound and tags other API errors with their status.
func apiError(method string, err error) error {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil {
		return err
	}
	if er.Response.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("github %s: status %d: %w", method, er.Response.StatusCode, err)
}
