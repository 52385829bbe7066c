package web

import (
	"fmt"
	"html/template"
	"time"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"levelOrUnknown": func(l alarm.Level) string {
		if l == "" {
			return "UNKNOWN"
		}
		return string(l)
	},
	"levelClass": func(l alarm.Level) string {
		switch l {
		case alarm.LevelRaised:
			return "raised"
		case alarm.LevelClear:
			return "clear"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sentry Node</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.raised { color: red; font-weight: bold; }
.clear { color: green; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Sentry Node</h1>

<h2>Alarms</h2>
<table>
{{range .Alarms}}<tr><th>{{.Name}}</th><td class="{{levelClass .State.Current}}">{{levelOrUnknown .State.Current}}</td><td>{{if .State.Armed}}armed{{else}}disarmed{{end}}</td></tr>
{{end}}<tr><th>Presence line</th><td colspan="2">{{if .Node.Presence}}high{{else}}low{{end}}</td></tr>
<tr><th>Motion vector</th><td colspan="2">{{index .Node.Vector 0}}, {{index .Node.Vector 1}}, {{index .Node.Vector 2}}</td></tr>
</table>

<h2>Node</h2>
<table>
<tr><th>Mode</th><td>{{.Node.Mode}}</td></tr>
<tr><th>Clock</th><td>{{if .Ready}}{{.Node.Time}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Transport</th><td>{{.Config.Transport}}</td></tr>
<tr><th>Link</th><td class="{{if .LinkUp}}connected{{else}}disconnected{{end}}">{{if .LinkUp}}up{{else}}down{{end}}</td></tr>
<tr><th>Peer</th><td class="{{if .Node.Connected}}connected{{else}}disconnected{{end}}">{{if .Node.Connected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Data Log</h2>
<table>
<tr><th>State</th><td>{{.Node.Log.State}}</td></tr>
<tr><th>Logging</th><td>{{if .Node.Log.Enabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Records</th><td>{{.Node.Log.Records}}</td></tr>
<tr><th>Replays</th><td>{{.Node.Log.Stats.Replays}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Presence raised</th><td>{{.Node.Counts.PresenceRaised}}</td></tr>
<tr><th>Presence cleared</th><td>{{.Node.Counts.PresenceCleared}}</td></tr>
<tr><th>Motion raised</th><td>{{.Node.Counts.MotionRaised}}</td></tr>
<tr><th>Motion cleared</th><td>{{.Node.Counts.MotionCleared}}</td></tr>
<tr><th>Coalesced edges</th><td>{{.Node.Flags.Coalesced}}</td></tr>
<tr><th>Dropped edges</th><td>{{.Node.Flags.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Log interval</th><td>{{.Config.LogIntervalMs}}ms</td></tr>
<tr><th>Storage</th><td>{{.Config.Storage}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type alarmRow struct {
	Name  string
	State alarm.State
}

// page is the template data. Snapshot has an Uptime method but the
// template needs plain fields.
type page struct {
	status.Snapshot
	Uptime time.Duration
	Alarms []alarmRow
}

func newPage(snap status.Snapshot) page {
	p := page{Snapshot: snap, Uptime: snap.Uptime()}
	for _, s := range alarm.Sensors {
		p.Alarms = append(p.Alarms, alarmRow{Name: s.String(), State: snap.Node.Alarms[s]})
	}
	return p
}
