// Package adzuna fetches job postings from the Adzuna search API and
// normalizes them into jobs.Posting values.
package adzuna

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/retry"
)

const (
	apiURL    = "https://api.adzuna.com/v1/api"
	userAgent = "jobmatch (compatible; JobMatchBot/1.0)"
	// Max value for results per page.
	perPage = 50
	// Postings seen in the last 30 days form the sync window.
	maxDaysOld = 30
)

type Client struct {
	appID      string
	appKey     string
	logger     *zap.Logger
	policy     retry.Policy
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, appID, appKey string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		appID:  appID,
		appKey: appKey,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:    logger,
		policy:    retry.DefaultPolicy(),
		UserAgent: userAgent,
	}
}

// WithRetryPolicy replaces the default retry policy.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	c.policy = p
	return c
}
