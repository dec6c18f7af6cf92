// Package remote talks to the upstream dining service. Each call issues
// exactly one HTTP request and returns either a fully parsed value or a
// typed *Error; retrying and caching are layered on by callers.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the public Disneyland site the API lives under.
	DefaultBaseURL = "https://disneyland.disney.go.com"

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// tokenCookie is the cookie the authz endpoint returns the token in.
	tokenCookie = "__d"

	// conversationHeader carries the per-client conversation id. The
	// upstream's own web client sends it under this literal name.
	conversationHeader = "Undefined"

	// destinationID is the explorer-service id of the Disneyland Resort.
	destinationID = "80008297;entityType=destination"

	// maxBodyBytes caps how much of a response body we read.
	maxBodyBytes = 16 << 20
)

// Config holds configuration for the remote client.
type Config struct {
	// BaseURL is the scheme and host of the upstream.
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds each individual request.
	Timeout time.Duration

	// HTTPClient is the transport. If nil, a client with no global
	// timeout is used and Timeout is applied per request.
	HTTPClient *http.Client

	// Log receives request diagnostics.
	Log btclog.Logger

	// Now is the clock used to stamp tokens.
	Now func() time.Time
}

// Client performs authenticated calls against the upstream.
type Client struct {
	cfg     Config
	base    *url.URL
	headers http.Header
	http    *http.Client
	tracer  trace.Tracer
}

// NewClient creates a client for the configured upstream.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Log == nil {
		cfg.Log = btclog.Disabled
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https",
			cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		headers: protocolHeaders(base, cfg.UserAgent),
		http:    httpClient,
		tracer: otel.Tracer(
			"github.com/ResistanceIsUseless/disneyland-menu/" +
				"internal/remote",
		),
	}, nil
}

// protocolHeaders builds the fixed header set the upstream's own web client
// sends. Requests missing these are frequently rejected.
func protocolHeaders(base *url.URL, userAgent string) http.Header {
	origin := base.Scheme + "://" + base.Host

	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en_US")
	h.Set("Content-Type", "application/json")
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/dining/")
	h.Set("User-Agent", userAgent)
	h.Set("Sec-Ch-Ua", `"Chromium";v="133", "Not(A:Brand";v="99"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", "macOS")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set(conversationHeader, uuid.NewString())

	return h
}

// Authenticate obtains a fresh bearer token from the public authz endpoint.
func (c *Client) Authenticate(ctx context.Context) (AuthToken, error) {
	endpoint := c.base.JoinPath("finder", "api", "v1", "authz", "public")

	resp, _, err := c.do(
		ctx, opAuthenticate, http.MethodPost, endpoint.String(),
		[]byte("{}"), nil,
	)
	if err != nil {
		return AuthToken{}, err
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == tokenCookie && cookie.Value != "" {
			return newAuthToken(cookie.Value, c.cfg.Now()), nil
		}
	}

	return AuthToken{}, &Error{
		Kind:   KindAuth,
		Op:     opAuthenticate,
		Status: resp.StatusCode,
		Msg:    "response did not set the " + tokenCookie + " cookie",
	}
}

// ListEntities returns the dining entities open on the given date.
func (c *Client) ListEntities(
	ctx context.Context, token AuthToken, date string,
) (EntityList, error) {

	endpoint := c.base.String() + fmt.Sprintf(
		"/finder/api/v1/explorer-service/list-ancestor-entities/dlr/"+
			"%s/%s/dining", destinationID, url.PathEscape(date),
	)

	_, body, err := c.do(
		ctx, opListEntities, http.MethodGet, endpoint, nil, &token,
	)
	if err != nil {
		return EntityList{}, err
	}

	return ParseEntities(body)
}

// FetchDetail returns the menu of a single entity. The upstream menu
// endpoint is not date-aware; the date only scopes how the result is cached.
func (c *Client) FetchDetail(
	ctx context.Context, token AuthToken, ref EntityRef, date string,
) (DetailRecord, error) {

	if !ref.HasDetail() {
		return DetailRecord{}, &Error{
			Kind: KindNotFound,
			Op:   opFetchDetail,
			Msg: fmt.Sprintf("entity %s has no menu slug for %s",
				ref.ID, date),
		}
	}

	endpoint := c.base.JoinPath("dining", "dinemenu", "api", "menu")
	endpoint.RawQuery = url.Values{
		"searchTerm": {ref.URLFriendlyID},
		"language":   {"en-us"},
	}.Encode()

	_, body, err := c.do(
		ctx, opFetchDetail, http.MethodGet, endpoint.String(), nil,
		&token,
	)
	if err != nil {
		return DetailRecord{}, err
	}

	return ParseDetail(body)
}

// do issues a single request and reads the full body. Any non-2xx status is
// converted into a typed error. If the caller's context ends, its error is
// returned as is so that it is never mistaken for a retryable failure.
func (c *Client) do(
	ctx context.Context, op, method, endpoint string, body []byte,
	token *AuthToken,
) (*http.Response, []byte, error) {

	ctx, span := c.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("remote.op", op)),
	)
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, nil, c.fail(span, &Error{
			Kind: KindNetwork, Op: op, Msg: "build request", Err: err,
		})
	}
	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	if token != nil {
		req.Header.Set("Authorization", token.bearer())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, c.fail(span, ctxErr)
		}

		msg := "transport failure"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}

		return nil, nil, c.fail(span, &Error{
			Kind: KindNetwork, Op: op, Msg: msg, Err: err,
		})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, c.fail(span, ctxErr)
		}

		// The status line arrived but the body did not. That is a
		// transport failure, so the status is left at zero.
		return nil, nil, c.fail(span, &Error{
			Kind: KindNetwork, Op: op,
			Msg: fmt.Sprintf("read body after status %d",
				resp.StatusCode),
			Err: err,
		})
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	c.cfg.Log.DebugS(ctx, "Upstream request complete",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(respBody),
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, c.fail(
			span, statusError(op, resp.StatusCode, respBody),
		)
	}

	return resp, respBody, nil
}

// fail records err on the span and returns it.
func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
