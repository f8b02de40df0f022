// Package mqtt implements the per-account MQTT session (C3): one TLS
// connection to the region's broker, per-device topic subscriptions, a
// per-client reply topic, and request/response correlation keyed by
// messageId. Directly adapted from the teacher's
// iotmodule/transport/mqtt.Transport (haylesnortal-iothub, a fragment
// of amenzhinsky/iothub): the on-connect resubscribe list (subs/subm),
// the token-to-context bridge (contextToken), and the
// TransportOption construction pattern all carry over.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
	"github.com/Doekse/merossiot-sub004/logx"
	"github.com/Doekse/merossiot-sub004/stats"
	"github.com/Doekse/merossiot-sub004/transport"
)

// ClientIDPrefix is prepended to the random uuid v4 forming the MQTT
// client id, per spec §4.3/§6.
const ClientIDPrefix = "merossiot"

// Dispatcher receives device-initiated messages (PUSH, and SET
// commands device-to-cloud) that aren't replies to a pending request.
// Implementations live in package push; mqtt never imports push to
// avoid a dependency cycle back toward the registry.
type Dispatcher interface {
	Dispatch(uuid string, msg common.RawMessage)
}

// EncryptionKeys supplies the per-device AES key derived from the
// account key and the device's mac address, keyed by uuid, for
// devices that advertise Appliance.Encrypt.ECDHE. Implementations live
// in package registry; mqtt never imports registry to avoid a
// dependency cycle back toward the registry.
type EncryptionKeys interface {
	EncryptionKey(uuid string) (keyHex string, ok bool)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(l logx.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithStats attaches a stats sink.
func WithStats(st *stats.Stats) Option {
	return func(s *Session) { s.stats = st }
}

// WithDispatcher sets the push-notification dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) { s.dispatcher = d }
}

// WithEncryptionKeys sets the collaborator consulted for a device's AES
// key before every publish and on every inbound message.
func WithEncryptionKeys(k EncryptionKeys) Option {
	return func(s *Session) { s.keys = k }
}

// WithClientOptionsConfig allows advanced tuning of the underlying
// paho.ClientOptions, mirroring the teacher's WithClientOptionsConfig.
func WithClientOptionsConfig(fn func(*paho.ClientOptions)) Option {
	return func(s *Session) { s.cocfg = fn }
}

// WithOnConnect registers fn to run every time the broker connection
// comes up, including reconnects; the façade uses it to distinguish
// "connected" from "reconnect" by tracking whether it's seen one
// before.
func WithOnConnect(fn func()) Option {
	return func(s *Session) { s.onConnect = fn }
}

// WithOnConnectionLost registers fn to run whenever paho's
// auto-reconnect kicks in after a drop.
func WithOnConnectionLost(fn func(error)) Option {
	return func(s *Session) { s.onConnectionLost = fn }
}

// pendingRequest is spec's PendingRequest (§3), scoped to this package.
type pendingRequest struct {
	messageID string
	uuid      string
	method    common.Method
	namespace string
	sentAt    time.Time
	deadline  time.Time
	replyCh   chan pendingResult
}

type pendingResult struct {
	msg common.Message
	err error
}

// Session is one account's MQTT connection.
type Session struct {
	mu   sync.RWMutex
	conn paho.Client

	creds    common.Credentials
	clientID string

	subm sync.RWMutex
	subs map[string]subFunc

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	dispatcher Dispatcher
	keys       EncryptionKeys
	logger     logx.Logger
	stats      *stats.Stats
	cocfg      func(*paho.ClientOptions)

	onConnect        func()
	onConnectionLost func(error)

	done chan struct{}
}

type subFunc func() error

// New constructs a Session; call Connect to establish the broker
// connection.
func New(opts ...Option) *Session {
	s := &Session{
		pending: make(map[string]*pendingRequest),
		subs:    make(map[string]subFunc),
		logger:  logx.Noop(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Kind() transport.Kind { return transport.KindMQTT }

// BuildHeader signs and timestamps a header for an outbound message
// addressed to uuid, using this session's account key and client id.
// It satisfies router.HeaderBuilder, letting the router sign envelopes
// for both the MQTT and LAN paths without either transport needing to
// know about the other.
func (s *Session) BuildHeader(messageID, namespace string, method common.Method) common.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildHeader(messageID, namespace, method, s.creds.Key, s.clientID, "")
}

// Connect dials the account's MQTT broker and subscribes to the
// per-client reply topic. It mirrors the teacher's Connect: builds
// ClientOptions, wires OnConnect to replay all registered
// subscriptions, and wires OnConnectionLost to log.
func (s *Session) Connect(ctx context.Context, creds common.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("mqtt: already connected")
	}
	s.creds = creds
	s.clientID = ClientIDPrefix + "-" + uuid.New().String()

	o := paho.NewClientOptions()
	o.AddBroker(fmt.Sprintf("tls://%s:443", creds.MQTTDomain))
	o.SetClientID(s.clientID)
	o.SetUsername(creds.UserID)
	o.SetPassword(derivePassword(creds.UserID, creds.Key))
	o.SetTLSConfig(&tls.Config{ServerName: creds.MQTTDomain})
	o.SetWriteTimeout(30 * time.Second)
	o.SetMaxReconnectInterval(30 * time.Second)
	o.SetAutoReconnect(true)
	o.SetOnConnectHandler(func(paho.Client) {
		s.logger.Debugf("mqtt connection established")
		s.subm.RLock()
		for _, sub := range s.subs {
			if err := sub(); err != nil {
				s.logger.Warnf("mqtt resubscribe error: %s", err)
			}
		}
		s.subm.RUnlock()
		if s.onConnect != nil {
			s.onConnect()
		}
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warnf("mqtt connection lost: %v", err)
		if s.onConnectionLost != nil {
			s.onConnectionLost(err)
		}
	})
	if s.cocfg != nil {
		s.cocfg(o)
	}

	c := paho.NewClient(o)
	if err := contextToken(ctx, c.Connect()); err != nil {
		return common.Wrap(common.KindMQTTError, err)
	}
	s.conn = c

	if err := s.sub(replyTopicKey, s.subReplyTopic()); err != nil {
		return err
	}
	return nil
}

// derivePassword mirrors the firmware-documented MQTT password scheme
// (spec §4.3, an Open Question resolved in SPEC_FULL.md §9): an MD5 of
// the user id and account key.
func derivePassword(userID, key string) string {
	return crypto.MD5Hex(userID + key)
}

// replyTopicKey is the subs map key for the per-client reply topic,
// distinct from any uuid.
const replyTopicKey = ""

func (s *Session) sub(key string, fn subFunc) error {
	if err := fn(); err != nil {
		return err
	}
	s.subm.Lock()
	s.subs[key] = fn
	s.subm.Unlock()
	return nil
}

func (s *Session) subReplyTopic() subFunc {
	return func() error {
		s.mu.RLock()
		topic := clientReplyTopic(s.creds.UserID, s.clientID)
		conn := s.conn
		s.mu.RUnlock()
		return contextToken(context.Background(), conn.Subscribe(topic, 1, s.onMessage))
	}
}

// SubscribeDevice subscribes to a device's publish topic, replaying the
// subscription on every reconnect.
func (s *Session) SubscribeDevice(uuid string) error {
	return s.sub(uuid, func() error {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return errors.New("mqtt: not connected")
		}
		return contextToken(context.Background(), conn.Subscribe(deviceTopic(uuid), 1, s.onMessage))
	})
}

// UnsubscribeDevice unsubscribes from a device's publish topic and
// stops replaying that subscription on reconnect, per spec §4.5's
// remove() lifecycle op.
func (s *Session) UnsubscribeDevice(uuid string) error {
	s.subm.Lock()
	delete(s.subs, uuid)
	s.subm.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil
	}
	return contextToken(context.Background(), conn.Unsubscribe(deviceTopic(uuid)))
}

// onMessage is the paho message handler for both the reply topic and
// every device publish topic: it decides between resolving a pending
// request and handing the message to the push Dispatcher.
func (s *Session) onMessage(_ paho.Client, m paho.Message) {
	var raw common.RawMessage
	if err := unmarshalMessage(m.Payload(), &raw); err != nil {
		s.logger.Errorf("mqtt: malformed message on %s: %v", m.Topic(), err)
		return
	}

	var keyHex string
	if s.keys != nil {
		keyHex, _ = s.keys.EncryptionKey(raw.Header.UUID)
	}

	if raw.Header.Method.IsAck() {
		if s.resolvePending(raw, keyHex) {
			return
		}
		s.logger.Warnf("mqtt: no pending request for messageId %s", raw.Header.MessageID)
		return
	}

	if s.dispatcher != nil {
		plain, err := maybeDecrypt(raw.Payload, keyHex)
		if err != nil {
			s.logger.Errorf("mqtt: decrypt payload from %s: %v", raw.Header.UUID, err)
			return
		}
		raw.Payload = plain
		s.dispatcher.Dispatch(raw.Header.UUID, raw)
	}
}

func (s *Session) resolvePending(raw common.RawMessage, keyHex string) bool {
	s.pendingMu.Lock()
	pr, ok := s.pending[raw.Header.MessageID]
	if ok {
		delete(s.pending, raw.Header.MessageID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}

	var payload any
	_ = unmarshalPayload(raw.Payload, &payload, keyHex)
	msg := common.Message{Header: raw.Header, Payload: payload}

	if raw.Header.Method == common.MethodERROR {
		pr.replyCh <- pendingResult{err: &common.Error{Kind: common.KindCommand, Message: "device reported an error", Operational: false}}
	} else {
		pr.replyCh <- pendingResult{msg: msg}
	}
	return true
}

// Send publishes msg to uuid's subscribe topic and blocks until a
// reply with a matching messageId arrives or ctx is done, per spec
// §4.3 ("publish suspends until reply or deadline"). It implements
// transport.Sender.
func (s *Session) Send(ctx context.Context, uuid string, msg common.Message) (common.Message, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return common.Message{}, common.New(common.KindUnconnected, "mqtt session not connected")
	}

	pr := &pendingRequest{
		messageID: msg.Header.MessageID,
		uuid:      uuid,
		method:    msg.Header.Method,
		namespace: msg.Header.Namespace,
		sentAt:    time.Now(),
		replyCh:   make(chan pendingResult, 1),
	}
	if dl, ok := ctx.Deadline(); ok {
		pr.deadline = dl
	}

	s.pendingMu.Lock()
	s.pending[pr.messageID] = pr
	s.pendingMu.Unlock()

	var keyHex string
	if s.keys != nil {
		keyHex, _ = s.keys.EncryptionKey(uuid)
	}
	body, err := marshalMessage(msg, keyHex)
	if err != nil {
		s.removePending(pr.messageID)
		return common.Message{}, common.Wrap(common.KindParseError, err)
	}

	start := time.Now()
	token := conn.Publish(deviceSubscribeTopic(uuid), 1, false, body)
	if err := contextToken(ctx, token); err != nil {
		s.removePending(pr.messageID)
		s.recordMQTT(msg.Header.Namespace, string(msg.Header.Method), time.Since(start), false, true)
		return common.Message{}, common.Wrap(common.KindMQTTError, err)
	}

	select {
	case res := <-pr.replyCh:
		s.recordMQTT(msg.Header.Namespace, string(msg.Header.Method), time.Since(start), false, false)
		return res.msg, res.err
	case <-ctx.Done():
		s.removePending(pr.messageID)
		s.recordMQTT(msg.Header.Namespace, string(msg.Header.Method), time.Since(start), true, false)
		return common.Message{}, (&common.Error{Kind: common.KindCommandTimeout, DeviceUUID: uuid}).WithTimeout(int(time.Since(start).Milliseconds()))
	}
}

// FailPending resolves every pending request addressed to uuid with
// UNCONNECTED, so a command already in flight to a device that was
// just removed from the registry fails immediately instead of sitting
// until its own deadline, per spec §4.5's remove() operation.
func (s *Session) FailPending(uuid string) {
	s.pendingMu.Lock()
	var matched []*pendingRequest
	for id, pr := range s.pending {
		if pr.uuid != uuid {
			continue
		}
		matched = append(matched, pr)
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	for _, pr := range matched {
		pr.replyCh <- pendingResult{err: common.New(common.KindUnconnected, "device removed").WithDevice(uuid)}
	}
}

func (s *Session) removePending(messageID string) {
	s.pendingMu.Lock()
	delete(s.pending, messageID)
	s.pendingMu.Unlock()
}

func (s *Session) recordMQTT(namespace, method string, latency time.Duration, delayed, dropped bool) {
	if s.stats == nil {
		return
	}
	s.stats.RecordMQTT(stats.MQTTSample{Namespace: namespace, Method: method, LatencyMs: latency.Milliseconds(), Delayed: delayed, Dropped: dropped})
}

// Close disconnects and fails every outstanding request with
// UNCONNECTED, per spec §4.3/§5 ("Cancellation...removes all pending
// requests with UNCONNECTED").
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	s.pendingMu.Lock()
	for id, pr := range s.pending {
		pr.replyCh <- pendingResult{err: common.New(common.KindUnconnected, "session closed")}
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if s.conn != nil && s.conn.IsConnected() {
		s.conn.Disconnect(250)
	}
	return nil
}

// contextToken bridges a paho.Token to ctx cancellation, adapted
// verbatim in spirit from the teacher's contextToken helper (paho
// doesn't support contexts natively).
func contextToken(ctx context.Context, t paho.Token) error {
	done := make(chan struct{})
	go func() {
		for !t.WaitTimeout(time.Second) {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		close(done)
	}()
	select {
	case <-done:
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
