// Package api talks to the remote expense service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

// TokenSource supplies the bearer token for outgoing requests. An empty
// token sends the request unauthenticated.
type TokenSource interface {
	Token() string
}

// Options configures a Gateway.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Tokens  TokenSource
	Logger  *applog.Logger
	// HTTPClient overrides the underlying transport; tests pass the
	// httptest server client here.
	HTTPClient *http.Client
}

// Gateway issues JSON requests against a fixed base URL and maps every
// failure to a *core.Error.
type Gateway struct {
	client *resty.Client
	logger *applog.Logger
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var c *resty.Client
	if opts.HTTPClient != nil {
		c = resty.NewWithClient(opts.HTTPClient)
	} else {
		c = resty.New()
	}
	c.SetBaseURL(opts.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetDisableWarn(true)

	tokens := opts.Tokens
	c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if tokens == nil {
			return nil
		}
		if tok := tokens.Token(); tok != "" {
			r.SetAuthToken(tok)
		}
		return nil
	})

	return &Gateway{client: c, logger: logger.WithComponent(applog.ComponentAPI)}
}

func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPost, path, body, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPut, path, body, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodDelete, path, nil, out)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	req := g.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	duration := time.Since(start).Milliseconds()
	failKind := core.KindWrite
	if method == http.MethodGet {
		failKind = core.KindFetch
	}

	if err != nil {
		g.logger.WarnContext(ctx, "API request failed",
			applog.FieldMethod, method,
			applog.FieldPath, path,
			applog.FieldDuration, duration,
			applog.FieldError, err)
		return &core.Error{
			Kind:    failKind,
			Message: fmt.Sprintf("%s %s: could not reach the server", method, path),
			Cause:   err,
		}
	}

	g.logger.DebugContext(ctx, "API request",
		applog.FieldMethod, method,
		applog.FieldPath, path,
		applog.FieldStatusCode, resp.StatusCode(),
		applog.FieldDuration, duration)

	if !resp.IsSuccess() {
		return statusError(method, path, resp, failKind)
	}

	if out == nil || len(strings.TrimSpace(string(resp.Body()))) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &core.Error{
			Kind:    failKind,
			Message: fmt.Sprintf("%s %s: unexpected response", method, path),
			Cause:   fmt.Errorf("decode response: %w", err),
			Status:  resp.StatusCode(),
		}
	}
	return nil
}

// errorBody is the failure payload shape used by the service.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusError(method, path string, resp *resty.Response, failKind core.Kind) error {
	code := resp.StatusCode()
	kind := failKind
	switch code {
	case http.StatusNotFound:
		kind = core.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = core.KindAuth
	}

	status := resp.Status()
	if status == "" {
		status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	cause := fmt.Errorf("unexpected status %s", status)

	msg := fmt.Sprintf("%s %s: %s", method, path, status)
	var eb errorBody
	if json.Unmarshal(resp.Body(), &eb) == nil {
		switch {
		case strings.TrimSpace(eb.Error) != "":
			msg = eb.Error
		case strings.TrimSpace(eb.Message) != "":
			msg = eb.Message
		}
	}

	return &core.Error{Kind: kind, Message: msg, Cause: cause, Status: code}
}
