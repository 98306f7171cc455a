package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const sparqlResultsJSON = "application/sparql-results+json"

// RemoteOptions configures the remote endpoint client
type RemoteOptions struct {
	Timeout time.Duration
	Retries int
	// RateLimit is the maximum number of requests per second, 0 means no limit
	RateLimit float64
}

// RemoteEndpoint sends queries to a SPARQL protocol endpoint over HTTP
type RemoteEndpoint struct {
	url     string
	client  *resty.Client
	limiter *rate.Limiter
}

type sparqlResults struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]jsonValue `json:"bindings"`
	} `json:"results"`
}

func NewRemoteEndpoint(url string, opts RemoteOptions) *RemoteEndpoint {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= 500
		})

	re := &RemoteEndpoint{url: url, client: client}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		re.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return re
}

func (r *RemoteEndpoint) Name() Source {
	return SourceRemote
}

// URL returns the endpoint address
func (r *RemoteEndpoint) URL() string {
	return r.url
}

// Query posts q as a form-encoded SPARQL protocol request
func (r *RemoteEndpoint) Query(ctx context.Context, q string) (*Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", sparqlResultsJSON).
		SetFormData(map[string]string{"query": q}).
		ForceContentType(sparqlResultsJSON).
		SetResult(&sparqlResults{}).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("sparql endpoint: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("sparql endpoint: %s", resp.Status())
	}

	body, ok := resp.Result().(*sparqlResults)
	if !ok || body == nil {
		return nil, fmt.Errorf("sparql endpoint: unexpected response")
	}

	res := &Result{
		Vars:   body.Head.Vars,
		Rows:   make([]Row, 0, len(body.Results.Bindings)),
		Source: SourceRemote,
	}
	if res.Vars == nil {
		res.Vars = []string{}
	}
	for _, b := range body.Results.Bindings {
		row := make(Row, len(b))
		for k, v := range b {
			row[k] = valueFromBinding(v)
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}
