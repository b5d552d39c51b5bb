package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	Replicas        int
	DuplicateWindow time.Duration // Window for msg-id dedupe
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "GAME_EVENTS",
		SubjectPrefix:   "game.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamForwarder republishes bus events to a JetStream stream so voice,
// economy and analytics services outside this process can follow games.
type JetStreamForwarder struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamForwarder(cfg JetStreamConfig) (*JetStreamForwarder, error) {
	opts := []nats.Option{
		nats.Name("mafia-game-server"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	f := &JetStreamForwarder{nc: nc, js: js, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return f, nil
}

func (f *JetStreamForwarder) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        f.config.StreamName,
		Description: "Mafia game lifecycle events",
		Subjects:    []string{fmt.Sprintf("%s.>", f.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      f.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    f.config.Replicas,
		Duplicates:  f.config.DuplicateWindow,
	}

	if _, err := f.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", f.config.StreamName).Msg("JetStream stream ready")
	return nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, t Type) string {
	return fmt.Sprintf("%s.%s", prefix, t)
}

// Attach subscribes the forwarder to each of the given event types.
func (f *JetStreamForwarder) Attach(bus *Bus, types ...Type) {
	for _, t := range types {
		bus.Subscribe(t, "jetstream-forwarder", f.Publish)
	}
}

// Publish sends ev to JetStream. The event id doubles as the msg id so a
// retried publish is deduplicated by the stream.
func (f *JetStreamForwarder) Publish(ctx context.Context, ev Event) error {
	subject := Subject(f.config.SubjectPrefix, ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := f.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Game-ID":    []string{ev.GameID},
			"Event-ID":   []string{ev.ID},
		},
	},
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectStream(f.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")

	return nil
}

func (f *JetStreamForwarder) Close() error {
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}
