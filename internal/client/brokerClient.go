package client

import (
	"bytes"
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

	"stockmedia-reseller/internal/config"
	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/model"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrBrokerPlacementFailed matches every *PlacementError.
var ErrBrokerPlacementFailed = errors.New("broker order placement failed")

// PlacementError is returned by PlaceOrder when the broker did not accept the order.
type PlacementError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PlacementError) Error() string {
	msg := "broker order placement failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlacementError) Unwrap() error { return e.Err }

func (e *PlacementError) Is(target error) bool { return target == ErrBrokerPlacementFailed }

// Result is the common part of every polling call. Polling calls never return an error:
// OK=false with Transient=true means the call should simply be retried later.
type Result struct {
	OK         bool
	Transient  bool
	StatusCode int
	Message    string
}

// Rejected reports whether the broker answered and explicitly refused.
func (r Result) Rejected() bool {
	return !r.OK && !r.Transient
}

type StockInfoResult struct {
	Result
	Info *model.StockInfo
}

type PlaceOrderResult struct {
	TaskID  string
	Message string
}

type StatusResult struct {
	Result
	Status       BrokerStatus
	RawStatus    string
	DownloadLink string
	FileName     string
}

// Ready reports whether the broker considers the item sourced.
func (r StatusResult) Ready() bool {
	return r.OK && (r.Status == BrokerStatusReady || r.DownloadLink != "")
}

type DownloadLinkResult struct {
	Result
	DownloadLink string
	FileName     string
	FileSize     int64
}

type CancelResult struct {
	Result
}

type UserFilesResult struct {
	Result
	Files     []model.BrokerFile
	NextToken string
}

type SitesStatusResult struct {
	Result
	Sites []model.BrokerSite
}

type BrokerClient interface {
	GetStockInfo(ctx context.Context, apiKey, site, itemID, itemURL string) StockInfoResult
	// PlaceOrder is the only call that returns an error: a *PlacementError whenever the
	// broker did not hand back a task id.
	PlaceOrder(ctx context.Context, apiKey, site, itemID, itemURL string) (*PlaceOrderResult, error)
	CheckOrderStatus(ctx context.Context, apiKey, taskID, responseType string) StatusResult
	GenerateDownloadLink(ctx context.Context, apiKey, taskID, responseType string) DownloadLinkResult
	// RegenerateDownloadLink accepts every link/file-name spelling the broker uses.
	RegenerateDownloadLink(ctx context.Context, apiKey, taskID, responseType string) DownloadLinkResult
	CancelOrder(ctx context.Context, apiKey, taskID string) CancelResult
	GetUserFiles(ctx context.Context, apiKey, nextToken, source, tag string) UserFilesResult
	GetStockSitesStatus(ctx context.Context, apiKey string) SitesStatusResult
}

type brokerClientImpl struct {
	httpClient   *http.Client
	baseApiURL   string
	responseType string
	limiter      *rate.Limiter
	newBackoff   func() backoff.BackOff
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

const maxBrokerBody = 1 << 20

func NewBrokerClient(cfg *config.Broker, logger *zap.Logger, m *metrics.Metrics) BrokerClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	responseType := cfg.ResponseType
	if responseType == "" {
		responseType = "any"
	}

	return &brokerClientImpl{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseApiURL:   strings.TrimRight(cfg.BaseURL, "/"),
		responseType: responseType,
		limiter:      rate.NewLimiter(limit, max(cfg.Burst, 1)),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = timeout
			return backoff.WithMaxRetries(b, 2)
		},
		logger:  logger.Named("broker"),
		metrics: m,
	}
}

// --- wire helpers ---

// envelope is the part every broker response shares.
type envelope struct {
	Success *bool       `json:"success"`
	Error   looseBool   `json:"error"`
	Message looseString `json:"message"`
}

func (e envelope) failed() bool {
	return bool(e.Error) || (e.Success != nil && !*e.Success)
}

func (e envelope) message(fallback string) string {
	if e.Message != "" {
		return string(e.Message)
	}
	return fallback
}

// looseBool accepts true/false, 0/1 and strings; a non-empty string other than "false"/"0" is true.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = looseBool(t)
	case float64:
		*b = t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		*b = s != "" && s != "false" && s != "0"
	default:
		*b = false
	}
	return nil
}

// looseString accepts strings, numbers and booleans.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = looseString(t)
	case float64:
		*s = looseString(strings.TrimSpace(string(data)))
	case bool:
		*s = looseString(fmt.Sprint(t))
	default:
		*s = looseString(string(data))
	}
	return nil
}

type brokerResponse struct {
	statusCode int
	body       []byte
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *brokerClientImpl) buildURL(path string, query url.Values) string {
	u := c.baseApiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// send performs one request. A non-2xx status is not an error here.
func (c *brokerClientImpl) send(ctx context.Context, method, apiKey, path string, query url.Values, payload any) (*brokerResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("X-Api-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBrokerBody))
	if err != nil {
		return nil, fmt.Errorf("read broker response: %w", err)
	}

	return &brokerResponse{statusCode: resp.StatusCode, body: b}, nil
}

// poll sends an idempotent request, retrying network errors, 429 and 5xx.
// A nil response with an error means the broker never answered usefully.
func (c *brokerClientImpl) poll(ctx context.Context, op, apiKey, path string, query url.Values, payload any) (*brokerResponse, Result) {
	var resp *brokerResponse
	err := backoff.Retry(func() error {
		r, err := c.send(ctx, http.MethodGet, apiKey, path, query, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		if retryable(r.statusCode) {
			return fmt.Errorf("broker http %d", r.statusCode)
		}
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))

	if err != nil {
		c.logger.Warn("broker request failed", zap.String("op", op), zap.Error(err))
		c.metrics.IncBrokerRequest(op, "transient")
		res := Result{Transient: true, Message: err.Error()}
		if resp != nil {
			res.StatusCode = resp.statusCode
		}
		return nil, res
	}

	return resp, Result{OK: true, StatusCode: resp.statusCode}
}

// finish classifies a decoded envelope and records the request outcome.
func (c *brokerClientImpl) finish(op string, resp *brokerResponse, env envelope, decodeErr error, fallback string) Result {
	res := Result{StatusCode: resp.statusCode}
	switch {
	case decodeErr != nil:
		res.Transient = true
		res.Message = "decode broker response: " + decodeErr.Error()
	case resp.statusCode < 200 || resp.statusCode >= 300:
		if env.failed() || env.Message != "" {
			res.Message = env.message(fallback)
		} else {
			// an unexplained 4xx is not taken as the broker's verdict on the order
			res.Transient = true
			res.Message = fmt.Sprintf("broker error %d: %s", resp.statusCode, snippet(resp.body))
		}
	case env.failed():
		res.Message = env.message(fallback)
	default:
		res.OK = true
		res.Message = string(env.Message)
	}

	switch {
	case res.OK:
		c.metrics.IncBrokerRequest(op, "ok")
	case res.Transient:
		c.metrics.IncBrokerRequest(op, "transient")
	default:
		c.metrics.IncBrokerRequest(op, "rejected")
	}
	return res
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func itemQuery(itemURL string) url.Values {
	if itemURL == "" {
		return nil
	}
	return url.Values{"url": {itemURL}}
}

func (c *brokerClientImpl) responseTypeQuery(responseType string) url.Values {
	if responseType == "" {
		responseType = c.responseType
	}
	return url.Values{"responsetype": {responseType}}
}

// --- METHODS ---

func (c *brokerClientImpl) GetStockInfo(ctx context.Context, apiKey, site, itemID, itemURL string) StockInfoResult {
	const op = "stock_info"
	path := fmt.Sprintf("/stockinfo/%s/%s", url.PathEscape(site), url.PathEscape(itemID))

	resp, res := c.poll(ctx, op, apiKey, path, itemQuery(itemURL), nil)
	if resp == nil {
		return StockInfoResult{Result: res}
	}

	var body struct {
		envelope
		Data *model.StockInfo `json:"data"`
	}
	err := json.Unmarshal(resp.body, &body)
	res = c.finish(op, resp, body.envelope, err, "stock info unavailable")
	if res.OK && body.Data == nil {
		res.OK = false
		res.Message = "stock info response has no data"
	}

	return StockInfoResult{Result: res, Info: body.Data}
}

func (c *brokerClientImpl) PlaceOrder(ctx context.Context, apiKey, site, itemID, itemURL string) (*PlaceOrderResult, error) {
	const op = "place_order"
	path := fmt.Sprintf("/stockorder/%s/%s", url.PathEscape(site), url.PathEscape(itemID))

	// placement has side effects at the broker, so it is sent exactly once
	resp, err := c.send(ctx, http.MethodGet, apiKey, path, itemQuery(itemURL), nil)
	if err != nil {
		c.metrics.IncBrokerRequest(op, "error")
		return nil, &PlacementError{Err: err}
	}

	var body struct {
		envelope
		TaskID looseString `json:"task_id"`
	}
	decodeErr := json.Unmarshal(resp.body, &body)

	if resp.statusCode < 200 || resp.statusCode >= 300 {
		c.metrics.IncBrokerRequest(op, "error")
		msg := snippet(resp.body)
		if decodeErr == nil && body.Message != "" {
			msg = string(body.Message)
		}
		return nil, &PlacementError{StatusCode: resp.statusCode, Message: msg}
	}
	if decodeErr != nil {
		c.metrics.IncBrokerRequest(op, "error")
		return nil, &PlacementError{StatusCode: resp.statusCode, Err: fmt.Errorf("decode broker response: %w", decodeErr)}
	}
	if body.failed() {
		c.metrics.IncBrokerRequest(op, "rejected")
		return nil, &PlacementError{StatusCode: resp.statusCode, Message: body.message("broker rejected order")}
	}
	if body.TaskID == "" {
		c.metrics.IncBrokerRequest(op, "rejected")
		return nil, &PlacementError{StatusCode: resp.statusCode, Message: "response has no task_id"}
	}

	c.metrics.IncBrokerRequest(op, "ok")
	c.logger.Info("broker order placed",
		zap.String("site", site),
		zap.String("item_id", itemID),
		zap.String("task_id", string(body.TaskID)),
	)

	return &PlaceOrderResult{
		TaskID:  string(body.TaskID),
		Message: string(body.Message),
	}, nil
}

func (c *brokerClientImpl) CheckOrderStatus(ctx context.Context, apiKey, taskID, responseType string) StatusResult {
	const op = "order_status"
	path := fmt.Sprintf("/order/%s/status", url.PathEscape(taskID))

	resp, res := c.poll(ctx, op, apiKey, path, c.responseTypeQuery(responseType), nil)
	if resp == nil {
		return StatusResult{Result: res, Status: BrokerStatusUnknown}
	}

	var body struct {
		envelope
		Status looseString `json:"status"`
		linkFields
	}
	err := json.Unmarshal(resp.body, &body)
	res = c.finish(op, resp, body.envelope, err, "broker reported an error")

	out := StatusResult{
		Result:    res,
		RawStatus: string(body.Status),
		Status:    NormalizeStatus(string(body.Status)),
	}
	if res.Rejected() {
		out.Status = BrokerStatusFailed
		return out
	}
	if res.OK {
		out.DownloadLink, out.FileName = body.link(), body.fileName()
	}
	return out
}

func (c *brokerClientImpl) GenerateDownloadLink(ctx context.Context, apiKey, taskID, responseType string) DownloadLinkResult {
	return c.downloadLink(ctx, "download_link", apiKey, taskID, responseType, false)
}

func (c *brokerClientImpl) RegenerateDownloadLink(ctx context.Context, apiKey, taskID, responseType string) DownloadLinkResult {
	return c.downloadLink(ctx, "regenerate_link", apiKey, taskID, responseType, true)
}

func (c *brokerClientImpl) downloadLink(ctx context.Context, op, apiKey, taskID, responseType string, tolerant bool) DownloadLinkResult {
	path := fmt.Sprintf("/v2/order/%s/download", url.PathEscape(taskID))

	resp, res := c.poll(ctx, op, apiKey, path, c.responseTypeQuery(responseType), nil)
	if resp == nil {
		return DownloadLinkResult{Result: res}
	}

	var body struct {
		envelope
		linkFields
		Data *linkFields `json:"data"`
	}
	err := json.Unmarshal(resp.body, &body)

	fields := body.linkFields
	if body.Data != nil && fields.link() == "" {
		fields = *body.Data
	}

	// a link in the payload is trusted over a missing or odd success flag
	if tolerant && err == nil && fields.link() != "" && resp.statusCode >= 200 && resp.statusCode < 300 {
		body.envelope = envelope{}
	}

	res = c.finish(op, resp, body.envelope, err, "download link unavailable")
	if res.OK && fields.link() == "" {
		res.OK = false
		res.Message = "broker response has no download link"
	}
	if !res.OK {
		return DownloadLinkResult{Result: res}
	}

	size, _ := strconv.ParseInt(string(fields.FileSize), 10, 64)
	return DownloadLinkResult{
		Result:       res,
		DownloadLink: fields.link(),
		FileName:     fields.fileName(),
		FileSize:     size,
	}
}

func (c *brokerClientImpl) CancelOrder(ctx context.Context, apiKey, taskID string) CancelResult {
	const op = "cancel_order"
	path := fmt.Sprintf("/order/%s/cancel", url.PathEscape(taskID))

	resp, res := c.poll(ctx, op, apiKey, path, nil, nil)
	if resp == nil {
		return CancelResult{Result: res}
	}

	var body envelope
	err := json.Unmarshal(resp.body, &body)
	return CancelResult{Result: c.finish(op, resp, body, err, "broker refused to cancel")}
}

func (c *brokerClientImpl) GetUserFiles(ctx context.Context, apiKey, nextToken, source, tag string) UserFilesResult {
	const op = "user_files"

	payload := map[string]string{}
	if nextToken != "" {
		payload["nextToken"] = nextToken
	}
	if source != "" {
		payload["source"] = source
	}
	if tag != "" {
		payload["tag"] = tag
	}

	// the broker reads the filter from a JSON body even on GET
	resp, res := c.poll(ctx, op, apiKey, "/myfiles", nil, payload)
	if resp == nil {
		return UserFilesResult{Result: res}
	}

	var body struct {
		envelope
		Files     []model.BrokerFile `json:"files"`
		NextToken looseString        `json:"nextToken"`
	}
	err := json.Unmarshal(resp.body, &body)
	res = c.finish(op, resp, body.envelope, err, "files unavailable")
	if !res.OK {
		return UserFilesResult{Result: res}
	}

	return UserFilesResult{Result: res, Files: body.Files, NextToken: string(body.NextToken)}
}

func (c *brokerClientImpl) GetStockSitesStatus(ctx context.Context, apiKey string) SitesStatusResult {
	const op = "stock_sites"

	resp, res := c.poll(ctx, op, apiKey, "/stocksites", nil, nil)
	if resp == nil {
		return SitesStatusResult{Result: res}
	}

	var body struct {
		envelope
		Sites []model.BrokerSite `json:"sites"`
	}
	err := json.Unmarshal(resp.body, &body)
	res = c.finish(op, resp, body.envelope, err, "stock sites unavailable")
	if !res.OK {
		return SitesStatusResult{Result: res}
	}

	return SitesStatusResult{Result: res, Sites: body.Sites}
}

// linkFields resolves the spellings the broker uses for the same two values.
type linkFields struct {
	DownloadLink  string      `json:"downloadLink"`
	DownloadURL   string      `json:"download_url"`
	DownloadURL2  string      `json:"downloadUrl"`
	URL           string      `json:"url"`
	FileName      string      `json:"fileName"`
	FileNameLower string      `json:"filename"`
	FileNameSnake string      `json:"file_name"`
	FileSize      looseString `json:"fileSize"`
}

func (f linkFields) link() string {
	return firstNonEmpty(f.DownloadLink, f.DownloadURL, f.DownloadURL2, f.URL)
}

func (f linkFields) fileName() string {
	return firstNonEmpty(f.FileName, f.FileNameLower, f.FileNameSnake)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
