// Package lan implements the direct LAN HTTP transport (C4): a signed
// envelope POSTed to http://<lanIp>/config, same wire shape as the
// MQTT path. The underlying *http.Client reuses httpkit-style
// construction with retry-on-transient-dial-error enabled, because LAN
// dials are exactly the "macOS ARP table race" scenario that pattern
// documents.
package lan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/transport"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetryCount and DefaultRetryDelay are the macOS-ARP-race
// defaults wired into every Transport built by New.
const (
	DefaultRetryCount = 2
	DefaultRetryDelay = 250 * time.Millisecond
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EncryptionKeys supplies the per-device AES key derived from the
// account key and the device's mac address, keyed by uuid, for
// devices that advertise Appliance.Encrypt.ECDHE. Implementations live
// in package registry; lan never imports registry to avoid a
// dependency cycle back toward the registry.
type EncryptionKeys interface {
	EncryptionKey(uuid string) (keyHex string, ok bool)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport's logger.
func WithLogger(l logx.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithHTTPDoer lets tests substitute a fake transport.
func WithHTTPDoer(doer httpDoer) Option {
	return func(t *Transport) { t.http = doer }
}

// WithEncryptionKeys sets the collaborator consulted for a device's AES
// key before every send and on every reply.
func WithEncryptionKeys(k EncryptionKeys) Option {
	return func(t *Transport) { t.keys = k }
}

// WithRetry enables retry-on-transient-dial-error for the default
// *http.Client built by New (no-op if WithHTTPDoer overrides the
// client). LAN dials are the exact "macOS ARP table race" scenario
// this guards against: the first POST after a device joins the LAN
// can hit a stale or absent ARP entry and fail with EHOSTUNREACH
// before the kernel's neighbor table catches up.
func WithRetry(count int, delay time.Duration) Option {
	return func(t *Transport) {
		t.retryCount = count
		t.retryDelay = delay
	}
}

// Transport sends envelopes directly to a device's LAN IP.
type Transport struct {
	http       httpDoer
	timeout    time.Duration
	logger     logx.Logger
	keys       EncryptionKeys
	retryCount int
	retryDelay time.Duration
}

// New builds a LAN Transport with retry-on-transient-dial-error
// enabled by default.
func New(opts ...Option) *Transport {
	t := &Transport{
		timeout:    DefaultTimeout,
		logger:     logx.Noop(),
		retryCount: DefaultRetryCount,
		retryDelay: DefaultRetryDelay,
	}
	for _, o := range opts {
		o(t)
	}
	if t.http == nil {
		base := &http.Transport{
			DialContext: (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		}
		var rt http.RoundTripper = base
		if t.retryCount > 0 {
			rt = &retryTransport{base: rt, count: t.retryCount, delay: t.retryDelay, logger: t.logger}
		}
		t.http = &http.Client{Timeout: t.timeout, Transport: rt}
	}
	return t
}

func (t *Transport) Kind() transport.Kind { return transport.KindLAN }

// SendTo posts msg to http://<lanIP>/config and decodes the reply
// envelope. There is no MQTT broker in the loop, so the "uuid" the
// transport.Sender interface expects is replaced here with the
// device's resolved LAN IP; router wires that resolution. uuid is
// still threaded through separately to look up the device's AES key
// when it advertises Appliance.Encrypt.ECDHE, per spec §4.1.
func (t *Transport) SendTo(ctx context.Context, lanIP, uuid string, msg common.Message) (common.Message, error) {
	var keyHex string
	if t.keys != nil {
		keyHex, _ = t.keys.EncryptionKey(uuid)
	}

	if keyHex != "" {
		plain, err := json.Marshal(msg.Payload)
		if err != nil {
			return common.Message{}, common.Wrap(common.KindParseError, err)
		}
		ciphertext, err := crypto.Encrypt(plain, keyHex)
		if err != nil {
			return common.Message{}, common.Wrap(common.KindCryptoError, err).WithDevice(uuid)
		}
		msg.Payload = ciphertext
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return common.Message{}, common.Wrap(common.KindParseError, err)
	}

	url := fmt.Sprintf("http://%s/config", lanIP)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return common.Message{}, common.Wrap(common.KindMQTTError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return common.Message{}, common.Wrap(common.KindNetworkTimeout, ctx.Err())
		}
		t.logger.Debugf("lan send to %s failed: %v", lanIP, err)
		return common.Message{}, common.Wrap(common.KindNetworkTimeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.Message{}, common.Wrap(common.KindNetworkTimeout, err)
	}
	if resp.StatusCode != http.StatusOK {
		return common.Message{}, &common.Error{Kind: common.KindHTTPAPIError, Message: "lan non-200 response", HTTPStatusCode: resp.StatusCode}
	}

	var out common.Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return common.Message{}, common.Wrap(common.KindParseError, err)
	}

	if keyHex != "" {
		if ciphertext, ok := out.Payload.(string); ok {
			plain, err := crypto.Decrypt([]byte(ciphertext), keyHex)
			if err != nil {
				return common.Message{}, common.Wrap(common.KindCryptoError, err).WithDevice(uuid)
			}
			var payload any
			if err := json.Unmarshal(plain, &payload); err != nil {
				return common.Message{}, common.Wrap(common.KindParseError, err)
			}
			out.Payload = payload
		}
	}
	return out, nil
}

// retryTransport wraps a RoundTripper and retries on transient
// connection errors, mirroring nugget-thane-ai-agent's
// internal/httpkit.retryTransport. It only retries when the request
// body (if any) supports rewinding via GetBody.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger logx.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryableError(err) {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Warnf("lan: retrying %s %s after transient error (attempt %d/%d): %v", req.Method, req.URL, attempt, t.count, err)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("lan: rewind body for retry: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = t.base.RoundTrip(req)
		if err == nil || !isRetryableError(err) {
			return resp, err
		}
	}
	return resp, err
}

// isRetryableError reports whether err is a transient dial-level
// failure worth retrying, e.g. the macOS ARP table race where a
// freshly-joined LAN device isn't resolvable yet.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && retryableErrno(errno) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.As(opErr.Err, &errno) && retryableErrno(errno) {
		return true
	}
	return false
}

func retryableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED, syscall.ECONNRESET:
		return true
	default:
		return false
	}
}
