package cache

import (
	"encoding/json"
	"time"
)

type Channel string

const BlocklistChannel Channel = "trustguard:blocklist"

const (
	BlocklistEventBlock   = "block"
	BlocklistEventUnblock = "unblock"
)

type RedisMessage struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// BlocklistEvent propagates a block, quarantine or unblock to the other instances.
type BlocklistEvent struct {
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Temporary bool      `json:"temporary,omitempty"`
}
