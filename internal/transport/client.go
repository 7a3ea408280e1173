// Package transport implements the C3 request pipeline of spec.md §4.3:
// a fixed stack of layers (logging, serialize, URL build, concurrency
// cap, retry, rate limit, deserialize, bandwidth shaping, auth) wrapping
// a single shared *http.Client, grounded on the teacher's own
// api_request method (SeyitDurmus-go-mega's single retry-loop POST to a
// fixed base URL) generalized to the full layered pipeline spec.md
// calls for.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// ResponseType selects the wire encoding of a response body, spec.md
// §4.3 item 7 / §6: Large endpoints set header "msgpack: 1" and decode
// MessagePack; everything else is JSON.
type ResponseType int

const (
	Normal ResponseType = iota
	Large
)

// Config carries exactly the fields the pipeline needs; vault.Config
// is mapped onto this at Client construction time so this package never
// imports the root package.
type Config struct {
	BaseURL                   string
	Concurrency               int
	RateLimitPerSec           int
	RetryBudgetTokens         int
	RetryBudgetRatio          float64
	UploadBandwidthKBPerSec   int
	DownloadBandwidthKBPerSec int
	RequestTimeout            time.Duration
	Logger                    *logrus.Logger
}

// Client is the shared, cheap-to-clone request pipeline. A single
// instance backs every FS/upload/download call a vault.Client makes;
// its *http.Client and limiters are documented safe for concurrent use
// (spec.md §5 "Shared-resource policy").
type Client struct {
	http *http.Client

	baseURL     string
	concurrency *concurrencyCap
	rateLimit   *requestLimiter
	retryBudget *retryBudget

	uploadKBPerSec   int
	downloadKBPerSec int

	logger *logrus.Logger

	apiKeyMu sync.RWMutex
	apiKey   string
}

func NewClient(cfg Config) *Client {
	return &Client{
		http:             &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		concurrency:      newConcurrencyCap(cfg.Concurrency),
		rateLimit:        newRequestLimiter(cfg.RateLimitPerSec),
		retryBudget:      newRetryBudget(cfg.RetryBudgetTokens, cfg.RetryBudgetRatio),
		uploadKBPerSec:   cfg.UploadBandwidthKBPerSec,
		downloadKBPerSec: cfg.DownloadBandwidthKBPerSec,
		logger:           cfg.Logger,
	}
}

// SetAPIKey rotates the bearer token under a write lock (spec.md §5
// "api_key: shared RwLock"). Safe to call while requests are in flight;
// it takes effect on the next auth-layer snapshot.
func (c *Client) SetAPIKey(key string) {
	c.apiKeyMu.Lock()
	c.apiKey = key
	c.apiKeyMu.Unlock()
}

func (c *Client) apiKeySnapshot() string {
	c.apiKeyMu.RLock()
	defer c.apiKeyMu.RUnlock()
	return c.apiKey
}

// APIKey returns the current bearer token. The push subsystem reads it
// for each (re)auth attempt so socket reconnects pick up rotations.
func (c *Client) APIKey() string {
	return c.apiKeySnapshot()
}

// Request describes one logical call through the pipeline.
type Request struct {
	Method        string
	Endpoint      string
	Query         url.Values
	Body          interface{} // marshaled to JSON; nil for GET/bodyless calls
	RawBody       []byte      // sent verbatim as application/octet-stream; takes precedence over Body (chunk uploads)
	ResponseType  ResponseType
	Authenticated bool
	// Progress, if set, is invoked with (downloaded, total) ciphertext
	// bytes as the response body streams in (spec.md §4.3 item 8).
	Progress func(downloaded int64, total *int64)
}

// Do executes req end to end: serialize, build URL, acquire the
// concurrency slot, retry-with-budget around rate-limited attempts,
// inject auth, and decode the response into out (a pointer, or nil to
// discard the body). Bandwidth shaping and the progress callback are
// applied to the response body while it is read.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	start := time.Now()
	fields := logrus.Fields{"endpoint": req.Endpoint, "method": req.Method}

	bodyBytes, err := serializeBody(req)
	if err != nil {
		return err
	}
	fullURL, err := c.buildURL(req.Endpoint, req.Query)
	if err != nil {
		return err
	}

	if err := c.concurrency.acquire(ctx); err != nil {
		return newError(KindNetwork, "acquire concurrency slot", err)
	}
	defer c.concurrency.release()

	var downloaded int64
	attempt := 0
	bo := newBackoff()
	bo.Reset()

	err = backoff.Retry(backoff.Operation(func() error {
		attempt++
		if err := c.rateLimit.wait(ctx); err != nil {
			return backoff.Permanent(newError(KindNetwork, "rate limit wait", err))
		}

		httpReq, err := c.buildHTTPRequest(ctx, req, fullURL, bodyBytes)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			terr := newError(KindNetwork, "http request", err)
			return c.maybeRetry(terr)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			terr := c.classifyStatus(resp)
			return c.maybeRetry(terr)
		}

		n, derr := c.decodeResponse(ctx, resp, req, out)
		downloaded = n
		if derr != nil {
			return backoff.Permanent(derr)
		}
		c.retryBudget.onSuccess()
		return nil
	}), backoff.WithContext(bo, ctx))

	if c.logger != nil {
		fields["duration_ms"] = time.Since(start).Milliseconds()
		fields["attempt"] = attempt
		fields["downloaded"] = downloaded
		if err != nil {
			c.logger.WithFields(fields).WithError(err).Debug("request failed")
		} else {
			c.logger.WithFields(fields).Debug("request completed")
		}
	}
	if err != nil {
		return unwrapPermanent(err)
	}
	return nil
}

func unwrapPermanent(err error) error {
	var perr *backoff.PermanentError
	if errors.As(err, &perr) {
		return perr.Err
	}
	return err
}

// maybeRetry consumes one retry-budget token and returns err so
// backoff.Retry tries again, or wraps it backoff.Permanent once the
// error class isn't retryable or the budget is exhausted (spec.md §4.3
// "Retryable" / "When exhausted, failures surface immediately").
func (c *Client) maybeRetry(err *Error) error {
	if !retryable(err) {
		return backoff.Permanent(err)
	}
	if !c.retryBudget.take() {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) classifyStatus(resp *http.Response) *Error {
	body, _ := io.ReadAll(resp.Body)
	var se ServerError
	_ = json.Unmarshal(body, &se)
	code := fmt.Sprintf("%d", resp.StatusCode)
	if se.Code == "" {
		se.Code = code
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: KindUnauthenticated, Code: code, Message: se.Message, Err: &se}
	}
	return &Error{Kind: KindServer, Code: code, Message: se.Message, Err: &se}
}

func serializeBody(req Request) ([]byte, error) {
	if req.RawBody != nil {
		return req.RawBody, nil
	}
	if req.Body == nil || req.Method == http.MethodGet {
		return nil, nil
	}
	b, err := json.Marshal(req.Body)
	if err != nil {
		return nil, newError(KindConversion, "encode request body", err)
	}
	return b, nil
}

func (c *Client) buildURL(endpoint string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return "", newError(KindConversion, "parse endpoint url", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) buildHTTPRequest(ctx context.Context, req Request, fullURL string, bodyBytes []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		r := io.Reader(bytes.NewReader(bodyBytes))
		if c.uploadKBPerSec > 0 {
			r = newBandwidthLimiter(ctx, r, c.uploadKBPerSec)
		}
		bodyReader = r
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, newError(KindConversion, "build http request", err)
	}
	if bodyBytes != nil {
		if req.RawBody != nil {
			httpReq.Header.Set("Content-Type", "application/octet-stream")
		} else {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if req.ResponseType == Large {
		httpReq.Header.Set("msgpack", "1")
	}
	if req.Authenticated {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKeySnapshot())
	}
	return httpReq, nil
}

// decodeResponse implements layers 7/8: read the body through the
// bandwidth limiter and progress callback, then parse it as JSON or
// MessagePack into out (a pointer to a decode target; the chunk-download
// path uses DoRaw instead).
func (c *Client) decodeResponse(ctx context.Context, resp *http.Response, req Request, out interface{}) (int64, error) {
	var total *int64
	if resp.ContentLength >= 0 {
		t := resp.ContentLength
		total = &t
	}
	body := io.Reader(resp.Body)
	if c.downloadKBPerSec > 0 {
		body = newBandwidthLimiter(ctx, body, c.downloadKBPerSec)
	}
	cr := &countingReader{r: body, progress: req.Progress, total: total}

	data, err := io.ReadAll(cr)
	if err != nil {
		return cr.n, newError(KindNetwork, "read response body", err)
	}
	if out == nil || len(data) == 0 {
		return cr.n, nil
	}
	switch req.ResponseType {
	case Large:
		if err := msgpack.Unmarshal(data, out); err != nil {
			return cr.n, newError(KindConversion, "decode msgpack response", err)
		}
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return cr.n, newError(KindConversion, "decode json response", err)
		}
	}
	return cr.n, nil
}

type countingReader struct {
	r        io.Reader
	n        int64
	progress func(downloaded int64, total *int64)
	total    *int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		if cr.progress != nil {
			cr.progress(cr.n, cr.total)
		}
	}
	return n, err
}

// DoRaw executes req and returns the response body as a streaming
// io.ReadCloser rather than decoding it, for the chunk-download path
// (spec.md §4.3 item 8 "stream it") where the caller decrypts in
// place as it reads. Bandwidth shaping and progress apply to the
// returned reader; the caller must Close it.
func (c *Client) DoRaw(ctx context.Context, req Request) (io.ReadCloser, error) {
	fullURL, err := c.buildURL(req.Endpoint, req.Query)
	if err != nil {
		return nil, err
	}
	if err := c.concurrency.acquire(ctx); err != nil {
		return nil, newError(KindNetwork, "acquire concurrency slot", err)
	}

	httpReq, err := c.buildHTTPRequest(ctx, req, fullURL, nil)
	if err != nil {
		c.concurrency.release()
		return nil, err
	}
	if err := c.rateLimit.wait(ctx); err != nil {
		c.concurrency.release()
		return nil, newError(KindNetwork, "rate limit wait", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.concurrency.release()
		return nil, newError(KindNetwork, "http request", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		terr := c.classifyStatus(resp)
		c.concurrency.release()
		return nil, terr
	}
	c.retryBudget.onSuccess()

	body := io.Reader(resp.Body)
	if c.downloadKBPerSec > 0 {
		body = newBandwidthLimiter(ctx, body, c.downloadKBPerSec)
	}
	if req.Progress != nil {
		body = &countingReader{r: body, progress: req.Progress}
	}
	return &releaseOnClose{Reader: body, closer: resp.Body, release: c.concurrency.release}, nil
}

// releaseOnClose ties the concurrency-slot release to the caller
// closing the streamed body, so DoRaw's slot isn't held open-ended.
type releaseOnClose struct {
	io.Reader
	closer  io.Closer
	release func()
}

func (r *releaseOnClose) Close() error {
	defer r.release()
	return r.closer.Close()
}
