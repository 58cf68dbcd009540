package domain

import "time"

// BroadcastChannelKey is the well-known key for administrator announcements.
// Keys built from caller-supplied ids always carry a prefix, so none of them
// can equal it.
const BroadcastChannelKey = "broadcast"

const (
	channelKeyPrefix = "channel:"
	vaultKeyPrefix   = "vault:"
)

// ChannelKey is the pub/sub key carrying a chat channel's messages.
func ChannelKey(channelID string) string {
	return channelKeyPrefix + channelID
}

// VaultKey is the pub/sub key carrying a vault's sync events.
func VaultKey(vaultID string) string {
	return vaultKeyPrefix + vaultID
}

// Channel is a named chat topic. Its traffic travels on ChannelKey(ID).
type Channel struct {
	ID            string
	Name          string
	Description   string
	Public        bool
	CreatedAt     time.Time
	LastPublish   time.Time
	LastSubscribe time.Time
}

// BroadcastChannel is the synthetic channel announcements are addressed to.
func BroadcastChannel() Channel {
	return Channel{
		ID:          BroadcastChannelKey,
		Name:        BroadcastChannelKey,
		Description: "announcements from administrators",
		Public:      true,
	}
}
