package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient speaks the Phoenix channel protocol used by Supabase Realtime.
type RealtimeClient struct {
	mu       sync.Mutex
	url      string
	conn     *websocket.Conn
	channels map[string]*Channel
	done     chan struct{}
	ref      int

	heartbeatInterval time.Duration
}

// ChangeHandler receives row changes for a subscribed table.
type ChangeHandler func(change *ChangeEvent)

// ChangeEvent is one postgres_changes notification.
type ChangeEvent struct {
	Type      string          `json:"type"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
	CommitAt  string          `json:"commit_timestamp"`
}

// Decode unmarshals the new row.
func (e *ChangeEvent) Decode(v any) error {
	return json.Unmarshal(e.Record, v)
}

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

// Channel is one joined topic.
type Channel struct {
	client   *RealtimeClient
	topic    string
	changes  PostgresChangesConfig
	handler  ChangeHandler
	joinRef  string
	joined   bool
}

// NewRealtimeClient derives the websocket endpoint from the project URL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + url.QueryEscape(apiKey) + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		channels:          make(map[string]*Channel),
		heartbeatInterval: 30 * time.Second,
	}
}

// Connect dials the socket and starts the reader and heartbeat loops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	go r.readLoop(conn, r.done)
	go r.heartbeat(r.done)
	return nil
}

// Done is closed when the connection drops or Disconnect is called.
func (r *RealtimeClient) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Disconnect closes the socket. Channels must be re-subscribed after a reconnect.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RealtimeClient) closeLocked() error {
	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := r.conn.Close()
	r.conn = nil
	close(r.done)
	for topic := range r.channels {
		delete(r.channels, topic)
	}
	return err
}

func (r *RealtimeClient) nextRef() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) send(topic, event string, payload any, joinRef string) error {
	if r.conn == nil {
		return fmt.Errorf("realtime not connected")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := r.nextRef()
	msg := phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if joinRef != "" {
		msg.JoinRef = &joinRef
	}
	return r.conn.WriteJSON(msg)
}

// =============================================================================
// Postgres Changes Subscription
// =============================================================================

// PostgresChangesConfig selects the row changes to receive.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // e.g. "ref=eq.REF123ABC"
}

// SubscribeToPostgresChanges joins a channel that streams matching row changes.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[topic]; ok && ch.joined {
		return ch, nil
	}

	change := map[string]string{"event": cfg.Event, "schema": cfg.Schema, "table": cfg.Table}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
	}

	ch := &Channel{client: r, topic: topic, changes: cfg, handler: handler}
	ch.joinRef = strconv.Itoa(r.ref + 1)
	if err := r.send(topic, "phx_join", payload, ch.joinRef); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}
	ch.joined = true
	r.channels[topic] = ch
	return ch, nil
}

// Unsubscribe leaves the channel.
func (c *Channel) Unsubscribe() error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	if !c.joined {
		return nil
	}
	c.joined = false
	delete(c.client.channels, c.topic)
	if err := c.client.send(c.topic, "phx_leave", map[string]any{}, c.joinRef); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// Topic returns the Phoenix topic name.
func (c *Channel) Topic() string { return c.topic }

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
				close(done)
				for topic := range r.channels {
					delete(r.channels, topic)
				}
			}
			r.mu.Unlock()
			return
		}

		var msg phoenixMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		r.dispatch(&msg)
	}
}

func (r *RealtimeClient) dispatch(msg *phoenixMessage) {
	if msg.Event != "postgres_changes" {
		return
	}
	var payload struct {
		Data ChangeEvent `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}

	r.mu.Lock()
	ch := r.channels[msg.Topic]
	r.mu.Unlock()
	if ch == nil || ch.handler == nil {
		return
	}
	if ch.changes.Event != "*" && !strings.EqualFold(ch.changes.Event, payload.Data.Type) {
		return
	}
	ch.handler(&payload.Data)
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			_ = r.send("phoenix", "heartbeat", map[string]any{}, "")
			r.mu.Unlock()
		}
	}
}
