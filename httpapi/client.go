// Package httpapi implements the Meross vendor HTTP API client (C2):
// signed login/devList/getSubDevices/logout/logActivity calls, domain
// redirect handling, and status-code to common.ErrorKind mapping.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/retryx"
	"github.com/Doekse/merossiot-sub004/stats"
)

const (
	// DefaultTimeout is the default per-call timeout, per spec §4.2.
	DefaultTimeout = 10 * time.Second

	appID        = "merossiot-sub004"
	appVersion   = "1.0.0"
	vendorName   = "meross"
	maxRedirects = 3
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l logx.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStats attaches a stats.Stats sink for observability.
func WithStats(s *stats.Stats) Option {
	return func(c *Client) { c.stats = s }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPDoer lets tests substitute a fake transport.
func WithHTTPDoer(doer httpDoer) Option {
	return func(c *Client) { c.http = doer }
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the vendor HTTP API client for one account. It holds the
// account's current Credentials (mutated only via domain redirects)
// behind a mutex, since httpDomain/mqttDomain can change mid-session.
type Client struct {
	mu    sync.RWMutex
	creds common.Credentials

	http    httpDoer
	timeout time.Duration
	logger  logx.Logger
	stats   *stats.Stats
}

// New builds a Client for an already-authenticated account.
func New(creds common.Credentials, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		timeout: DefaultTimeout,
		logger:  logx.Noop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(c.timeout)
	}
	return c
}

// Credentials returns the client's current (possibly redirected) credentials.
func (c *Client) Credentials() common.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// Login authenticates against /v1/Auth/signIn and returns fresh
// Credentials. It does not require an existing Client; use the
// package-level Login function instead when no account is authenticated
// yet.
func Login(ctx context.Context, email, password, mfaCode string, opts ...Option) (common.Credentials, *Client, error) {
	c := &Client{timeout: DefaultTimeout, logger: logx.Noop(), creds: common.Credentials{HTTPDomain: "iotx-us.meross.com"}}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(c.timeout)
	}

	params := map[string]any{
		"email":      email,
		"password":   crypto.MD5Hex(password),
		"encryption": 1,
	}
	if mfaCode != "" {
		params["mfaCode"] = mfaCode
	}

	var result LoginResult
	if err := c.call(ctx, "/v1/Auth/signIn", params, &result, true); err != nil {
		return common.Credentials{}, nil, err
	}

	creds := common.Credentials{
		Token:      result.Token,
		Key:        result.Key,
		UserID:     userIDString(result.UserID),
		UserEmail:  result.Email,
		HTTPDomain: firstNonEmpty(result.Domain, c.creds.HTTPDomain),
		MQTTDomain: firstNonEmpty(result.MQTTDomain, result.Domain, c.creds.HTTPDomain),
		IssuedOn:   time.Now(),
	}
	c.creds = creds
	return creds, c, nil
}

// ListDevices calls /v1/Device/devList.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	var out []DeviceDescriptor
	if err := c.call(ctx, "/v1/Device/devList", map[string]any{}, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSubDevices calls /v1/Hub/getSubDevices for the given hub.
func (c *Client) ListSubDevices(ctx context.Context, hubUUID string) ([]SubDeviceDescriptor, error) {
	var out []SubDeviceDescriptor
	if err := c.call(ctx, "/v1/Hub/getSubDevices", map[string]any{"uuid": hubUUID}, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Logout calls /v1/Profile/logout. Best effort: the caller should treat
// any returned error as informational only, per spec §5 ("resolves
// logout (best-effort)").
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "/v1/Profile/logout", map[string]any{}, nil, true)
}

// LogActivity posts client telemetry to /log/user. Failures are always
// swallowed, per spec §4.2/§7.
func (c *Client) LogActivity(ctx context.Context, payload LogActivityPayload) {
	if err := c.call(ctx, "/log/user", payload, nil, false); err != nil {
		c.logger.Debugf("logActivity failed (swallowed): %v", err)
	}
}

// call signs and POSTs params to path, decoding the apiStatus==0 data
// field into out. allowRedirect enables the apiStatus==1030 domain
// handling.
func (c *Client) call(ctx context.Context, path string, params any, out any, allowRedirect bool) error {
	backoff := retryx.Flat(200 * time.Millisecond)
	for attempt := 0; ; attempt++ {
		data, status, err := c.doOnce(ctx, path, params)
		if err == nil {
			if out != nil && data != nil {
				raw, merr := json.Marshal(data)
				if merr != nil {
					return common.Wrap(common.KindParseError, merr)
				}
				if uerr := json.Unmarshal(raw, out); uerr != nil {
					return common.Wrap(common.KindParseError, uerr)
				}
			}
			return nil
		}

		apiErr, ok := err.(*common.Error)
		if !ok || apiErr.Kind != common.KindBadDomain || !allowRedirect || attempt >= maxRedirects-1 {
			return err
		}
		_ = status
		select {
		case <-time.After(backoff.Next(attempt + 1)):
		case <-ctx.Done():
			return common.Wrap(common.KindNetworkTimeout, ctx.Err())
		}
	}
}

// doOnce performs exactly one signed HTTP round trip. It returns the
// decoded data field on apiStatus==0, or a *common.Error on any other
// outcome (including the 1030 domain-redirect case, whose Cause /
// context carries the new domains via the redirect path below).
func (c *Client) doOnce(ctx context.Context, path string, params any) (data any, httpStatus int, err error) {
	c.mu.RLock()
	domain, token := c.creds.HTTPDomain, c.creds.Token
	c.mu.RUnlock()

	ts := crypto.NowMillis()
	nonce := crypto.Nonce()
	sign, encoded, serr := crypto.SignRequest(params, ts, nonce)
	if serr != nil {
		return nil, 0, common.Wrap(common.KindSignError, serr)
	}

	body, merr := json.Marshal(envelope{Params: encoded, Sign: sign, Timestamp: ts, Nonce: nonce})
	if merr != nil {
		return nil, 0, common.Wrap(common.KindParseError, merr)
	}

	url := "https://" + domain + path
	req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if rerr != nil {
		return nil, 0, common.Wrap(common.KindHTTPAPIError, rerr)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Basic "+token)
	}
	req.Header.Set("vender", vendorName)
	req.Header.Set("AppVersion", appVersion)
	req.Header.Set("AppType", appID)
	req.Header.Set("AppLanguage", "EN")

	start := time.Now()
	resp, derr := c.http.Do(req)
	latency := time.Since(start).Milliseconds()
	if derr != nil {
		c.recordStat(path, http.MethodPost, 0, 0, latency)
		if ctx.Err() != nil {
			return nil, 0, common.Wrap(common.KindNetworkTimeout, ctx.Err())
		}
		return nil, 0, common.Wrap(common.KindHTTPAPIError, derr)
	}
	defer resp.Body.Close()

	raw, rderr := io.ReadAll(resp.Body)
	if rderr != nil {
		return nil, resp.StatusCode, common.Wrap(common.KindHTTPAPIError, rderr)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordStat(path, http.MethodPost, resp.StatusCode, 0, latency)
		return nil, resp.StatusCode, &common.Error{Kind: common.KindHTTPAPIError, Message: "unexpected status", HTTPStatusCode: resp.StatusCode}
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, resp.StatusCode, common.Wrap(common.KindParseError, err)
	}
	c.recordStat(path, http.MethodPost, resp.StatusCode, api.APIStatus, latency)

	if api.APIStatus == 0 {
		return api.Data, resp.StatusCode, nil
	}

	if api.APIStatus == 1030 {
		riRaw, _ := json.Marshal(api.Data)
		var ri redirectInfo
		_ = json.Unmarshal(riRaw, &ri)
		if ri.APIDomain != "" {
			c.mu.Lock()
			c.creds = c.creds.WithDomains(ri.APIDomain, firstNonEmpty(ri.MQTTDomain, ri.APIDomain))
			c.mu.Unlock()
			return nil, resp.StatusCode, &common.Error{Kind: common.KindBadDomain, Message: "domain redirect", ErrorCode: api.APIStatus, Field: ri.APIDomain}
		}
		return nil, resp.StatusCode, &common.Error{Kind: common.KindBadDomain, Message: "domain redirect without target", ErrorCode: api.APIStatus}
	}

	return nil, resp.StatusCode, &common.Error{Kind: statusKind(api.APIStatus), Message: api.Info, ErrorCode: api.APIStatus}
}

func (c *Client) recordStat(url, method string, httpStatus, apiStatus int, latencyMs int64) {
	if c.stats == nil {
		return
	}
	c.stats.RecordHTTP(stats.HTTPSample{URL: url, Method: method, HTTPStatus: httpStatus, APIStatus: apiStatus, LatencyMs: latencyMs})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// userIDString normalizes the vendor's userid field (sometimes a
// number, sometimes a string) to a string.
func userIDString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return fmt.Sprint(v)
	}
}
