package collaborator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"edupulse-sync-server/internal/metrics"

	"github.com/patrickmn/go-cache"
)

type QuizCatalog interface {
	QuestionExists(ctx context.Context, quizID, questionID string) (bool, error)
}

// HTTPQuizCatalog asks the quiz service whether a question exists. Both
// answers are cached; the catalog changes far slower than answers arrive.
type HTTPQuizCatalog struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

func NewHTTPQuizCatalog(baseURL string, timeout, ttl time.Duration) *HTTPQuizCatalog {
	return &HTTPQuizCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (c *HTTPQuizCatalog) QuestionExists(ctx context.Context, quizID, questionID string) (bool, error) {
	key := quizID + "/" + questionID
	if exists, ok := c.cache.Get(key); ok {
		return exists.(bool), nil
	}

	endpoint := fmt.Sprintf("%s/quizzes/%s/questions/%s", c.baseURL, url.PathEscape(quizID), url.PathEscape(questionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("quiz_catalog").Inc()
		return false, fmt.Errorf("quiz catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	var exists bool
	switch {
	case resp.StatusCode == http.StatusNotFound:
		exists = false
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		exists = true
	default:
		metrics.CollaboratorErrors.WithLabelValues("quiz_catalog").Inc()
		return false, fmt.Errorf("quiz catalog returned status %d", resp.StatusCode)
	}

	c.cache.SetDefault(key, exists)
	return exists, nil
}

// PermissiveQuizCatalog accepts every question. It is used when no catalog
// URL is configured.
type PermissiveQuizCatalog struct{}

func (PermissiveQuizCatalog) QuestionExists(context.Context, string, string) (bool, error) {
	return true, nil
}
