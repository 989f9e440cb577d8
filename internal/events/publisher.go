// Package events publishes sandbox lifecycle events to NATS JetStream.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/pkg/types"
)

const (
	streamName    = "DEVBOX_EVENTS"
	subjectPrefix = "devbox.sandbox"
	queueSize     = 256
)

// Event is the JSON payload published to NATS.
type Event struct {
	Type      string        `json:"type"`
	SandboxID string        `json:"sandbox_id"`
	Sandbox   types.Sandbox `json:"sandbox"`
	Timestamp time.Time     `json:"timestamp"`
}

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher queues lifecycle events and publishes them from a background
// goroutine, so callers never wait on NATS.
type Publisher struct {
	nc    *nats.Conn
	js    jetStream
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("devbox"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist, that's OK
		log.Warn().Err(err).Msg("events: stream setup")
	}

	return newPublisher(nc, js), nil
}

func newPublisher(nc *nats.Conn, js jetStream) *Publisher {
	p := &Publisher{
		nc:    nc,
		js:    js,
		queue: make(chan Event, queueSize),
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Publish queues an event. When the queue is full the event is dropped.
func (p *Publisher) Publish(kind string, sb types.Sandbox) {
	ev := Event{Type: kind, SandboxID: sb.ID, Sandbox: sb, Timestamp: time.Now().UTC()}
	select {
	case p.queue <- ev:
	default:
		log.Warn().Str("sandbox_id", sb.ID).Str("type", kind).Msg("events: queue full, dropping event")
	}
}

// Close flushes queued events and closes the NATS connection.
func (p *Publisher) Close() {
	close(p.stop)
	p.wg.Wait()
	if p.nc != nil {
		p.nc.Close()
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.send(ev)
		case <-p.stop:
			// Final flush
			for {
				select {
				case ev := <-p.queue:
					p.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("events: marshal")
		return
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, ev.Type)
	if _, err := p.js.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("sandbox_id", ev.SandboxID).Str("subject", subject).Msg("events: publish error")
	}
}
