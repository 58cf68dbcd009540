package dto

import (
	"time"

	"github.com/spec-kit/channel-service/internal/domain"
)

// ChannelCreateRequest payload for POST /channels.
type ChannelCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

// MessageRequest payload for sending a chat message or broadcast.
type MessageRequest struct {
	Message string `json:"message"`
}

// ChannelResponse is the API view of a channel.
type ChannelResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Public        bool   `json:"public"`
	WhenCreated   int64  `json:"when_created"`
	LastPublish   int64  `json:"last_publish"`
	LastSubscribe int64  `json:"last_subscribe"`
}

// NewChannelResponse maps a channel.
func NewChannelResponse(channel domain.Channel) ChannelResponse {
	return ChannelResponse{
		ID:            channel.ID,
		Name:          channel.Name,
		Description:   channel.Description,
		Public:        channel.Public,
		WhenCreated:   millis(channel.CreatedAt),
		LastPublish:   millis(channel.LastPublish),
		LastSubscribe: millis(channel.LastSubscribe),
	}
}

// NewChannelList maps a slice of channels.
func NewChannelList(channels []domain.Channel) []ChannelResponse {
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, NewChannelResponse(ch))
	}
	return out
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
