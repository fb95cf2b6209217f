package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/hc-state/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"ms": func(d time.Duration) string {
		return d.String()
	},
}).Parse(indexHTML))

func formatUptime(d time.Duration) string {
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
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.Name}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{.Config.Name}}</h1>

<h2>Appliance</h2>
<table>
<tr><th>Status</th><td id="status" class="{{if .On}}on{{else}}off{{end}}">{{.Status}}</td></tr>
<tr><th>Switch</th><td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Last change</th><td>{{ts .LastChange}}{{if .LastSource}} ({{.LastSource}}){{end}}</td></tr>
<tr><th>haId</th><td>{{.Config.HaID}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Event stream</th><td class="{{if .Stream.Connected}}connected{{else}}disconnected{{end}}">{{if .Stream.Connected}}connected{{else}}disconnected{{end}} ({{.Stream.Connects}} connects)</td></tr>
<tr><th>Token expires</th><td>{{ts .Token.Deadline}}</td></tr>
<tr><th>Token refreshes</th><td>{{.Token.Refreshed}} ok, {{.Token.Failed}} failed</td></tr>
<tr><th>Commands</th><td>{{.Commands.Sent}} sent, {{.Commands.Failed}} failed</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}} ({{.Config.Broker}})</td></tr>{{end}}
</table>

<h2>Transitions</h2>
<table>
<tr><th>Inactive</th><td>{{.Counts.Inactive}}</td></tr>
<tr><th>Running</th><td>{{.Counts.Running}}</td></tr>
<tr><th>Disconnected</th><td>{{.Counts.Disconnected}}</td></tr>
<tr><th>Waking Up</th><td>{{.Counts.WakingUp}}</td></tr>
<tr><th>Shutting Down</th><td>{{.Counts.ShuttingDown}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>API</th><td>{{.Config.BaseURL}}</td></tr>
<tr><th>Token refresh</th><td>every {{ms .Config.RefreshInterval}}</td></tr>
<tr><th>Stream restart</th><td>every {{ms .Config.RestartInterval}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		On     bool
		Uptime time.Duration
	}{
		Snapshot: snap,
		On:       snap.On(),
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
