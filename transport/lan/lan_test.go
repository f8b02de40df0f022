package lan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
)

type fakeEncryptionKeys struct {
	key string
}

func (f fakeEncryptionKeys) EncryptionKey(string) (string, bool) { return f.key, f.key != "" }

type fakeDoer struct {
	resp     *http.Response
	err      error
	url      string
	sentBody []byte
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.url = req.URL.String()
	if req.Body != nil {
		f.sentBody, _ = io.ReadAll(req.Body)
	}
	return f.resp, f.err
}

func TestSendTo_Success(t *testing.T) {
	reply := common.Message{Header: common.Header{MessageID: "abc", Method: common.MethodGETACK}, Payload: map[string]any{"ok": true}}
	body, _ := json.Marshal(reply)
	doer := &fakeDoer{resp: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body))}}

	tr := New(WithHTTPDoer(doer))
	got, err := tr.SendTo(context.Background(), "192.168.1.50", "uuid-1", common.Message{Header: common.Header{MessageID: "abc"}})
	if err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got.Header.MessageID != "abc" {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if doer.url != "http://192.168.1.50/config" {
		t.Fatalf("unexpected url: %s", doer.url)
	}
}

func TestSendTo_EncryptsOutboundAndDecryptsInbound(t *testing.T) {
	keyHex, err := crypto.DeviceKey("0123456789abcdef0123456789abcdef", "0123456789abcdef0123456789abcdef", "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("DeviceKey: %v", err)
	}

	replyCiphertext, err := crypto.Encrypt([]byte(`{"ok":true}`), keyHex)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	reply := common.Message{Header: common.Header{MessageID: "abc"}, Payload: replyCiphertext}
	body, _ := json.Marshal(reply)
	doer := &fakeDoer{resp: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body))}}

	tr := New(WithHTTPDoer(doer), WithEncryptionKeys(fakeEncryptionKeys{key: keyHex}))
	got, err := tr.SendTo(context.Background(), "192.168.1.50", "0123456789abcdef0123456789abcdef", common.Message{Payload: map[string]any{"foo": "bar"}})
	if err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if m, ok := got.Payload.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("expected decrypted reply payload, got %+v", got.Payload)
	}

	var sent common.Message
	if err := json.Unmarshal(doer.sentBody, &sent); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if _, ok := sent.Payload.(string); !ok {
		t.Fatalf("expected outbound payload to be swapped for base64 ciphertext, got %+v", sent.Payload)
	}
}

func TestSendTo_NonOKStatus(t *testing.T) {
	doer := &fakeDoer{resp: &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(bytes.NewReader(nil))}}
	tr := New(WithHTTPDoer(doer))
	_, err := tr.SendTo(context.Background(), "192.168.1.50", "uuid-1", common.Message{})
	if common.KindOf(err) != common.KindHTTPAPIError {
		t.Fatalf("expected HTTP_API_ERROR, got %v", err)
	}
}

// --- Retry transport tests, mirroring the macOS-ARP-race scenario ---

type failingRoundTripper struct {
	failures int
	calls    int
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH}}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestRetryTransport_RetriesOnEHOSTUNREACH(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ft.calls != 2 {
		t.Fatalf("expected 2 calls (1 fail + 1 success), got %d", ft.calls)
	}
}

func TestRetryTransport_ExhaustsRetries(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ft.calls != 3 {
		t.Fatalf("expected 3 calls (1 initial + 2 retries), got %d", ft.calls)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	body := strings.NewReader(`{"key":"value"}`)
	req, _ := http.NewRequest("POST", "http://example.com", body)
	req.GetBody = nil

	_, err := rt.RoundTrip(req)
	if err == nil {
		t.Fatal("expected error (should not retry without GetBody)")
	}
	if ft.calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"OpError wrapping EHOSTUNREACH", &net.OpError{Op: "dial", Net: "tcp", Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
