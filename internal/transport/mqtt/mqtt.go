// Package mqtt carries the node's characteristics over an MQTT broker.
//
// Topic layout under the node prefix (default "sentry/<node-id>"):
//
//	<prefix>/notify/<handle>   node → peer, raw characteristic value
//	<prefix>/write/<handle>    peer → node, raw characteristic value
//	<prefix>/peer              peer presence: "online" / "offline" (retained, peer LWT)
//	<prefix>/advert            node advertising state (retained)
//	<prefix>/broadcast         broadcast-only payload, hex (retained)
//	<prefix>/system            node lifecycle events, JSON
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/sentry-node/internal/transport"
)

// Peer presence payloads.
const (
	PeerOnline  = "online"
	PeerOffline = "offline"
)

// Advertising state payloads.
const (
	AdvertConnectable = "connectable"
	AdvertBroadcast   = "broadcast"
	AdvertStopped     = "stopped"
)

// Topics derives every topic from a prefix.
type Topics struct {
	Prefix string
}

// Notify returns the topic a handle's notifications are published on.
func (t Topics) Notify(h transport.Handle) string {
	return t.Prefix + "/notify/" + h.String()
}

// WriteFilter is the subscription filter for peer writes.
func (t Topics) WriteFilter() string {
	return t.Prefix + "/write/+"
}

// Peer is the peer presence topic.
func (t Topics) Peer() string { return t.Prefix + "/peer" }

// Advert is the advertising state topic.
func (t Topics) Advert() string { return t.Prefix + "/advert" }

// Broadcast is the broadcast payload topic.
func (t Topics) Broadcast() string { return t.Prefix + "/broadcast" }

// System is the lifecycle event topic.
func (t Topics) System() string { return t.Prefix + "/system" }

// ParseWrite maps a write topic back to its handle. Topics for unknown or
// read-only handles are rejected.
func (t Topics) ParseWrite(topic string) (transport.Handle, bool) {
	name, ok := strings.CutPrefix(topic, t.Prefix+"/write/")
	if !ok {
		return 0, false
	}
	h, ok := transport.HandleByName(name)
	if !ok || !h.Writable() {
		return 0, false
	}
	return h, true
}

// SystemEvent is a node lifecycle event (startup, shutdown, mode change).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g. "STARTUP", "SHUTDOWN", "MODE"
	Reason    string // e.g. "SIGTERM", "firmware_update"
	Retained  bool   // Whether the message should be retained by the broker
	// RawPayload, if set, is published as-is instead of the formatted
	// system payload.
	RawPayload []byte
}

// SystemPayload is the JSON envelope of a system event.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
