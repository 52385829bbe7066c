package status

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/datalog"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string               `json:"event,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Mode          string               `json:"mode"`
	Clock         string               `json:"clock"`
	Ready         bool                 `json:"ready"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     string               `json:"start_time"`
	Timestamp     string               `json:"timestamp"`
	Link          LinkJSON             `json:"link"`
	Alarms        map[string]AlarmJSON `json:"alarms"`
	Presence      bool                 `json:"presence"`
	Vector        [3]int               `json:"motion_vector"`
	Counts        CountsJSON           `json:"alarm_counts"`
	Log           LogJSON              `json:"log"`
	Flags         FlagsJSON            `json:"flags"`
	Notify        NotifyJSON           `json:"notify"`
	Network       *NetworkJSON         `json:"network,omitempty"`
	Config        ConfigJSON           `json:"config"`
}

// LinkJSON reports transport state.
type LinkJSON struct {
	Transport     string `json:"transport"`
	Up            bool   `json:"up"`
	PeerConnected bool   `json:"peer_connected"`
	Broker        string `json:"broker,omitempty"`
}

// AlarmJSON is one sensor's alarm state.
type AlarmJSON struct {
	Armed    bool   `json:"armed"`
	Level    string `json:"level"`
	Reported string `json:"reported"`
}

// CountsJSON is the JSON representation of alarm transition counts.
type CountsJSON struct {
	PresenceRaised  int `json:"presence_raised"`
	PresenceCleared int `json:"presence_cleared"`
	MotionRaised    int `json:"motion_raised"`
	MotionCleared   int `json:"motion_cleared"`
}

// LogJSON describes the data log.
type LogJSON struct {
	State    string `json:"state"`
	Enabled  bool   `json:"enabled"`
	Records  int    `json:"records"`
	Appended int    `json:"appended"`
	Replayed int    `json:"replayed"`
	Replays  int    `json:"replays"`
	// Last is the last appended record, hex encoded.
	Last string `json:"last,omitempty"`
}

// FlagsJSON reports flag bridge producer counters.
type FlagsJSON struct {
	Sets      uint32 `json:"sets"`
	Coalesced uint32 `json:"coalesced"`
	Dropped   uint32 `json:"dropped"`
}

// NotifyJSON reports notify outcomes.
type NotifyJSON struct {
	Delivered     int `json:"delivered"`
	NotConnected  int `json:"not_connected"`
	Busy          int `json:"busy"`
	SendCompletes int `json:"send_completes"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Transport     string `json:"transport"`
	Broker        string `json:"broker,omitempty"`
	HTTPAddr      string `json:"http_addr"`
	Storage       string `json:"storage"`
	LogIntervalMs int64  `json:"log_interval_ms"`
	PinPresence   int    `json:"pin_presence"`
	PinMotion     int    `json:"pin_motion"`
}

func buildInner(snap Snapshot) StatusInner {
	n := snap.Node
	inner := StatusInner{
		Mode:          n.Mode.String(),
		Clock:         "UNKNOWN",
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Link: LinkJSON{
			Transport:     snap.Config.Transport,
			Up:            snap.LinkUp,
			PeerConnected: n.Connected,
			Broker:        snap.Config.Broker,
		},
		Alarms:   map[string]AlarmJSON{},
		Presence: n.Presence,
		Vector:   [3]int{int(n.Vector[0]), int(n.Vector[1]), int(n.Vector[2])},
		Counts: CountsJSON{
			PresenceRaised:  n.Counts.PresenceRaised,
			PresenceCleared: n.Counts.PresenceCleared,
			MotionRaised:    n.Counts.MotionRaised,
			MotionCleared:   n.Counts.MotionCleared,
		},
		Log: LogJSON{
			State:    n.Log.State.String(),
			Enabled:  n.Log.Enabled,
			Records:  n.Log.Records,
			Appended: n.Log.Stats.Appended,
			Replayed: n.Log.Stats.Replayed,
			Replays:  n.Log.Stats.Replays,
			Last:     lastRecordHex(n.Log.Last),
		},
		Flags: FlagsJSON{
			Sets:      n.Flags.Sets,
			Coalesced: n.Flags.Coalesced,
			Dropped:   n.Flags.Dropped,
		},
		Notify: NotifyJSON{
			Delivered:     n.Notify.Delivered,
			NotConnected:  n.Notify.NotConnected,
			Busy:          n.Notify.Busy,
			SendCompletes: n.SendCompletes,
		},
		Config: ConfigJSON{
			Transport:     snap.Config.Transport,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			Storage:       snap.Config.Storage,
			LogIntervalMs: snap.Config.LogIntervalMs,
			PinPresence:   snap.Config.PinPresence,
			PinMotion:     snap.Config.PinMotion,
		},
	}
	if snap.Ready {
		inner.Clock = n.Time.String()
	}
	for _, s := range alarm.Sensors {
		st := n.Alarms[s]
		inner.Alarms[s.String()] = AlarmJSON{
			Armed:    st.Armed,
			Level:    levelOrUnknown(st.Current),
			Reported: levelOrUnknown(st.LastReported),
		}
	}
	return inner
}

func levelOrUnknown(l alarm.Level) string {
	if l == "" {
		return "UNKNOWN"
	}
	return string(l)
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

func lastRecordHex(raw *datalog.Raw) string {
	if raw == nil {
		return ""
	}
	return hex.EncodeToString(raw[:])
}
