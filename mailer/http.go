package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cadencehq/listsync/config"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/internal/httpclient"
)

// HTTPClient implements Client against a real mailer API endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *httpclient.SaferClient
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client from the mailer configuration.
func NewHTTPClient(cfg config.MailerConfig, log *zap.SugaredLogger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("mailer base_url is not configured")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultTimeoutSeconds) * time.Second
	}

	opts := httpclient.SaferClientOptions{}
	if cfg.AllowPrivateHosts {
		opts = httpclient.AllowLoopback()
	}
	client := httpclient.NewSaferClientWithOptions(timeout, opts)

	if _, err := client.ValidateURL(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "mailer base_url rejected")
	}

	// rate.Inf when unlimited; Wait() then never blocks
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}, nil
}

// SetRateLimit adjusts the politeness limiter. Used by config reload.
func (c *HTTPClient) SetRateLimit(perSecond float64) {
	if perSecond > 0 {
		c.limiter.SetLimit(rate.Limit(perSecond))
	} else {
		c.limiter.SetLimit(rate.Inf)
	}
}

func (c *HTTPClient) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	p := path
	if len(params) > 0 {
		p = path + "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, p, nil)
}

func (c *HTTPClient) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *HTTPClient) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

func (c *HTTPClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s %s body", method, path)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// The API accepts any username with the key as password.
	req.SetBasicAuth("listsync", c.apiKey)

	if c.log != nil {
		c.log.Debugw("Mailer request", "method", method, "path", path)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &RequestError{
			Method:   method,
			Path:     path,
			HTTPCode: resp.StatusCode,
			Body:     data,
		}
	}

	return &Response{HTTPCode: resp.StatusCode, Body: data}, nil
}
