package service

import (
	"context"
	"sync"

	"github.com/spec-kit/channel-service/internal/activity"
)

type recordingActivity struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordingActivity) Publish(_ context.Context, event activity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingActivity) types() []activity.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]activity.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
