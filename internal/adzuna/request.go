package adzuna

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	maxBodyPreview  = 300
)

type ItemResponse struct {
	Results []Item
	Count   int
}

type Item any

// getItems makes a single GET request to the search endpoint and returns the
// raw items of that page.
func (c *Client) getItems(ctx context.Context, endpoint string, q url.Values) (*ItemResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, jobs.Permanent(jobs.ErrSourceUnavailable, "build request", err)
	}

	req = c.setHeaders(req)
	req.URL.RawQuery = c.withCredentials(q).Encode()

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.parseItemResponse(resp)
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("path", req.URL.Path))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Timeouts and transport failures are worth another attempt.
		return nil, jobs.Transient(jobs.ErrSourceUnavailable, "adzuna request", err)
	}

	return resp, nil
}

func (c *Client) parseItemResponse(resp *http.Response) (*ItemResponse, error) {
	body, err := decodedBody(resp)
	if err != nil {
		return nil, jobs.Transient(jobs.ErrSourceUnavailable, "adzuna read body", err)
	}
	defer body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &jobs.Error{
			Kind:       jobs.ErrSourceRateLimited,
			Op:         "adzuna search",
			Retryable:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("bad status: %s", resp.Status),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, jobs.Transient(jobs.ErrSourceUnavailable, "adzuna search", fmt.Errorf("bad status: %s", resp.Status))
	default:
		preview, _ := io.ReadAll(io.LimitReader(body, 2048))
		return nil, jobs.Permanent(jobs.ErrSourceUnavailable, "adzuna search",
			fmt.Errorf("bad status: %s: %s", resp.Status, utils.TruncateForLog(string(preview), maxBodyPreview)))
	}

	var response *ItemResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return nil, jobs.Permanent(jobs.ErrSourceUnavailable, "adzuna decode", err)
	}
	if response == nil {
		response = &ItemResponse{}
	}

	return response, nil
}

func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}
	return gzip.NewReader(resp.Body)
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

func (c *Client) withCredentials(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = v
	}
	out.Set("app_id", c.appID)
	out.Set("app_key", c.appKey)
	return out
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
