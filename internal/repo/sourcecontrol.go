package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/deploywatch/deploywatch/internal/cache"
	"github.com/deploywatch/deploywatch/internal/models"
)

// SourceControlClient wraps the source-control provider's commit APIs.
type SourceControlClient struct {
	baseURL     string
	commitsPath string
	diffPath    string
	headPath    string
	token       string
	httpClient  *http.Client
	cache       cache.Provider
	diffTTL     time.Duration
}

// NewSourceControlClient constructs a client targeting the configured
// provider. cacheProvider may be a NoopProvider.
func NewSourceControlClient(baseURL, commitsPath, diffPath, headPath, token string, timeout time.Duration, cacheProvider cache.Provider, diffTTL time.Duration) *SourceControlClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &SourceControlClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		commitsPath: commitsPath,
		diffPath:    diffPath,
		headPath:    headPath,
		token:       token,
		httpClient:  &http.Client{Timeout: timeout},
		cache:       cacheProvider,
		diffTTL:     diffTTL,
	}
}

type commitPayload struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

func (p commitPayload) toModel() models.Commit {
	return models.Commit{Hash: p.Hash, Message: p.Message, Author: p.Author, Timestamp: p.Timestamp}
}

// ListCommits returns commits with timestamps inside [start, end], ordered as
// the provider returns them (chronological).
func (c *SourceControlClient) ListCommits(ctx context.Context, start, end time.Time) ([]models.Commit, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("source-control base URL not configured")
	}

	query := url.Values{}
	query.Set("since", start.Format(time.RFC3339))
	query.Set("until", end.Format(time.RFC3339))

	var response struct {
		Commits []commitPayload `json:"commits"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.commitsPath), query, &response); err != nil {
		return nil, fmt.Errorf("source-control commits request failed: %w", err)
	}

	commits := make([]models.Commit, 0, len(response.Commits))
	for _, payload := range response.Commits {
		commits = append(commits, payload.toModel())
	}
	return commits, nil
}

// Head returns the current head commit of the tracked branch.
func (c *SourceControlClient) Head(ctx context.Context) (models.Commit, error) {
	if c.baseURL == "" {
		return models.Commit{}, fmt.Errorf("source-control base URL not configured")
	}

	var response struct {
		Commit commitPayload `json:"commit"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.headPath), nil, &response); err != nil {
		return models.Commit{}, fmt.Errorf("source-control head request failed: %w", err)
	}
	return response.Commit.toModel(), nil
}

// DiffStat returns the diff summary for one commit. Stats are immutable per
// hash, so responses are cached.
func (c *SourceControlClient) DiffStat(ctx context.Context, hash string) (models.DiffStat, error) {
	if c.baseURL == "" {
		return models.DiffStat{}, fmt.Errorf("source-control base URL not configured")
	}
	if hash == "" {
		return models.DiffStat{}, fmt.Errorf("empty commit hash")
	}

	key := "scm:diff:" + hash
	var stat models.DiffStat
	if data, err := c.cache.Get(ctx, key); err == nil {
		if json.Unmarshal(data, &stat) == nil {
			return stat, nil
		}
	}

	query := url.Values{}
	query.Set("hash", hash)

	var response struct {
		Files      []string `json:"files"`
		Insertions int      `json:"insertions"`
		Deletions  int      `json:"deletions"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.diffPath), query, &response); err != nil {
		return models.DiffStat{}, fmt.Errorf("source-control diff request failed: %w", err)
	}

	stat = models.DiffStat{Files: response.Files, Insertions: response.Insertions, Deletions: response.Deletions}
	if data, err := json.Marshal(stat); err == nil {
		_ = c.cache.Set(ctx, key, data, c.diffTTL)
	}
	return stat, nil
}

func (c *SourceControlClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *SourceControlClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source-control returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
