package gateway

import (
	"errors"
	"net/http"
	"sort"
	"time"
)

// Priority orders outbound messages waiting for delivery.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Retryable reports whether a failed immediate send at p is queued for retry.
func (p Priority) Retryable() bool {
	return p >= PriorityHigh
}

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
	ErrAlreadyStarted   = errors.New("connection manager already started")
)

// Close codes sent to clients.
const (
	CloseUnauthorized = 4401
)

// Message is an outbound JSON object.
type Message map[string]any

// ErrorMessage builds the error frame sent for rejected inbound messages.
func ErrorMessage(text string) Message {
	return Message{"type": "error", "error": text}
}

// QueuedMessage is an outbound message waiting for delivery.
type QueuedMessage struct {
	Payload    []byte
	Priority   Priority
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
	seq        uint64
	// transient frames (acks, pings) are never replayed.
	transient bool
}

// sortQueue orders by priority, highest first, then by enqueue order.
func sortQueue(q []*QueuedMessage) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].Priority != q[j].Priority {
			return q[i].Priority > q[j].Priority
		}
		return q[i].seq < q[j].seq
	})
}

// Config holds configuration for client connections.
type Config struct {
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
	BufferTTL        time.Duration `yaml:"buffer_ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	RetryBatch       int           `yaml:"retry_batch"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	SendBuffer       int           `yaml:"send_buffer"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		ReconnectTimeout: 60 * time.Second,
		BufferTTL:        5 * time.Minute,
		CleanupInterval:  60 * time.Second,
		RetryInterval:    time.Second,
		RetryBatch:       10,
		MaxRetries:       3,
		MaxMessageSize:   65536,
		MaxQueueSize:     100,
		SendBuffer:       256,
		WriteTimeout:     10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		RateLimit:        20,
		RateWindow:       10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			// Telegram web views load the mini-app from varying origins
			return true
		},
	}
}

// Stats summarizes the connection manager state.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	Users            int            `json:"users"`
	ActiveGames      int            `json:"active_games"`
	GameConnections  map[string]int `json:"game_connections"`
	ReconnectTokens  int            `json:"reconnect_tokens"`
	BufferedUsers    int            `json:"buffered_users"`
	BufferedMessages int            `json:"buffered_messages"`
	QueuedMessages   int            `json:"queued_messages"`
}
