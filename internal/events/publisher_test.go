package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/opensandbox/devbox/pkg/types"
)

type fakeJetStream struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: streamName}, nil
}

func TestPublisher_PublishesOnSubjectPerKind(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(nil, js)

	p.Publish("running", types.Sandbox{ID: "sb-1", Status: types.SandboxStatusRunning})
	p.Publish("deleted", types.Sandbox{ID: "sb-1", Status: types.SandboxStatusStopped})
	p.Close()

	if len(js.subjects) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(js.subjects))
	}
	if js.subjects[0] != "devbox.sandbox.running" || js.subjects[1] != "devbox.sandbox.deleted" {
		t.Errorf("unexpected subjects %v", js.subjects)
	}

	var ev Event
	if err := json.Unmarshal(js.payloads[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "running" || ev.SandboxID != "sb-1" || ev.Sandbox.Status != types.SandboxStatusRunning {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestPublisher_ErrorsDoNotStopLoop(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	p := newPublisher(nil, js)
	p.Publish("created", types.Sandbox{ID: "sb-1"})
	p.Close()

	if len(js.subjects) != 0 {
		t.Errorf("expected nothing recorded, got %v", js.subjects)
	}
}
