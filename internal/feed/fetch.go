package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/progress"
)

const fetchTimeout = 15 * time.Second

// Fetch downloads and parses a feed document. Unreachable hosts, non-2xx
// responses and malformed documents all surface as an error the caller is
// expected to treat as "no information available". The only error worth
// branching on is data.ErrCancelled.
func Fetch(ctx context.Context, client *http.Client, url string, onProgress progress.Func) (*Feed, error) {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, data.ErrCancelled
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(progress.NewReader(ctx, resp.Body, resp.ContentLength, onProgress))
	if err != nil {
		if errors.Is(err, data.ErrCancelled) || ctx.Err() != nil {
			return nil, data.ErrCancelled
		}
		return nil, err
	}
	return Parse(body)
}
