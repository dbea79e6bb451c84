package adzuna

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/retry"
)

const searchPath = "/jobs/%s/search/%d"

type Query struct {
	Country string `mapstructure:"country"`
	// adzparam is custom tag for reflect. Fields without it never reach the query string.
	What           string `mapstructure:"what" adzparam:"what"`
	Where          string `mapstructure:"where" adzparam:"where"`
	Category       string `mapstructure:"category" adzparam:"category"`
	SortBy         string `mapstructure:"sort-by" adzparam:"sort_by"`
	MaxDaysOld     int    `mapstructure:"max-days-old" adzparam:"max_days_old"`
	ResultsPerPage int    `mapstructure:"results-per-page" adzparam:"results_per_page"`
	// MaxPages stops paging early. Zero means follow the upstream count.
	MaxPages int `mapstructure:"max-pages"`
}

// Page is one batch of normalized postings. NextPageToken is empty on the last page.
type Page struct {
	Postings      []jobs.Posting
	NextPageToken string
	// Skipped counts upstream items that could not be normalized.
	Skipped int
}

// FetchPage requests the page identified by token, or the first page when
// token is empty. Transient failures are retried with backoff.
func (c *Client) FetchPage(ctx context.Context, query Query, token string) (Page, error) {
	page := 1
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 1 {
			return Page{}, jobs.Permanent(jobs.ErrSourceUnavailable, "adzuna page token", fmt.Errorf("bad token %q", token))
		}
		page = n
	}

	query = withDefaults(query)
	endpoint := fmt.Sprintf("%s"+searchPath, c.APIURL, url.PathEscape(query.Country), page)
	params := buildParams(&query)

	resp, err := retry.Value(ctx, c.policy, c.logger, "adzuna search", func(ctx context.Context) (*ItemResponse, error) {
		return c.getItems(ctx, endpoint, params)
	})
	if err != nil {
		return Page{}, err
	}

	var raw []*rawJob
	cfg := &mapstructure.DecoderConfig{
		Result:           &raw,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return Page{}, err
	}
	if err := decoder.Decode(resp.Results); err != nil {
		return Page{}, jobs.Permanent(jobs.ErrSourceUnavailable, "adzuna decode results", err)
	}

	out := Page{Postings: make([]jobs.Posting, 0, len(raw))}
	for _, r := range raw {
		p, ok := normalize(r)
		if !ok {
			out.Skipped++
			c.logger.Warn("skip posting without id", zap.String("title", r.Title))
			continue
		}
		out.Postings = append(out.Postings, p)
	}

	if hasNext(query, page, len(raw), resp.Count) {
		out.NextPageToken = strconv.Itoa(page + 1)
	}

	c.logger.Debug("fetched page",
		zap.Int("page", page),
		zap.Int("postings", len(out.Postings)),
		zap.Int("total", resp.Count),
	)

	return out, nil
}

func withDefaults(q Query) Query {
	if q.Country == "" {
		q.Country = "gb"
	}
	if q.ResultsPerPage <= 0 || q.ResultsPerPage > perPage {
		q.ResultsPerPage = perPage
	}
	if q.MaxDaysOld <= 0 {
		q.MaxDaysOld = maxDaysOld
	}
	return q
}

func hasNext(q Query, page, got, total int) bool {
	if got == 0 {
		return false
	}
	if q.MaxPages > 0 && page >= q.MaxPages {
		return false
	}
	return page*q.ResultsPerPage < total
}

func buildParams(params *Query) url.Values {
	q := url.Values{}
	v := reflect.ValueOf(params).Elem()
	for _, field := range reflect.VisibleFields(v.Type()) {
		key := field.Tag.Get("adzparam")
		if key == "" {
			continue
		}
		value := fmt.Sprintf("%v", v.FieldByIndex(field.Index).Interface())
		if value != "" && value != "0" {
			q.Set(key, value)
		}
	}

	return q
}
