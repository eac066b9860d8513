package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrUnavailable marks transport-level or server-side failures of the search
// backend so callers can distinguish them from bad requests.
var ErrUnavailable = errors.New("search index unavailable")

// Document is the searchable projection of a patient record. It is derived
// from the record store and fully replaceable; the index never owns data.
type Document struct {
	ID         string   `json:"id"`
	Conditions []string `json:"conditions"`
	Allergies  []string `json:"allergies"`
}

// Term is a single field/value match criterion.
type Term struct {
	Field string
	Value string
}

// Client talks to an Elasticsearch-compatible search endpoint.
type Client struct {
	http   *resty.Client
	index  string
	logger zerolog.Logger
}

func NewClient(baseURL, index string, logger zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: c, index: index, logger: logger}
}

// Index upserts a document keyed by its id. Writing the same document twice
// overwrites in place, so redelivered change events are safe no-ops.
func (c *Client) Index(ctx context.Context, doc Document) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(doc).
		Put(fmt.Sprintf("/%s/_doc/%s", c.index, doc.ID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: index %s returned %d", ErrUnavailable, c.index, resp.StatusCode())
	}
	c.logger.Debug().Str("id", doc.ID).Msg("document indexed")
	return nil
}

// Delete removes a document by id. A missing document is not an error:
// deletes must stay idempotent under event redelivery.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/%s/_doc/%s", c.index, id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("%w: index %s returned %d", ErrUnavailable, c.index, resp.StatusCode())
	}
	return nil
}

type searchHit struct {
	Source Document `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// Search returns documents matching any of the supplied terms. OR semantics:
// the query uses a bool "should" clause with minimum_should_match 1, so a
// patient matching either a condition or an allergy term is returned.
func (c *Client) Search(ctx context.Context, terms []Term) ([]Document, error) {
	should := make([]map[string]interface{}, 0, len(terms))
	for _, t := range terms {
		should = append(should, map[string]interface{}{
			"match": map[string]interface{}{t.Field: t.Value},
		})
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}

	var result searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(query).
		SetResult(&result).
		Post(fmt.Sprintf("/%s/_search", c.index))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: index %s returned %d", ErrUnavailable, c.index, resp.StatusCode())
	}

	docs := make([]Document, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}
