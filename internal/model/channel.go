package model

import (
	"encoding/json"
	"time"
)

// ChannelMessage is the envelope every Bus publish produces. Sequence is
// strictly monotone per channel, assigned by whichever component
// publishes; it is not persisted across restarts — subscribers observe a
// rewind and must treat it as a gap, not an error.
type ChannelMessage struct {
	Channel   string          `json:"channel"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
