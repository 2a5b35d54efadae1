package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/estop-controller/internal/status"
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
	"stateClass": func(s string) string {
		switch s {
		case "ARMED":
			return "armed"
		case "TRIGGERED":
			return "triggered"
		case "RESET_PENDING":
			return "pending"
		default:
			return "fault"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Emergency Stop</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.armed { color: green; font-weight: bold; }
.triggered { color: red; font-weight: bold; }
.pending { color: orange; font-weight: bold; }
.fault { color: purple; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Emergency Stop</h1>

<h2>Safety</h2>
<table>
<tr><th>State</th><td class="{{stateClass .StateName}}">{{.StateName}}</td></tr>
<tr><th>Button</th><td>{{if .ButtonPressed}}pressed{{else}}released{{end}}</td></tr>
<tr><th>Last source</th><td>{{.Stats.LastSource}}</td></tr>
<tr><th>Triggers</th><td>{{.Stats.TriggerCount}}</td></tr>
<tr><th>Health</th><td>{{.Health}}</td></tr>
<tr><th>Tick overruns</th><td>{{.Stats.Overruns}} (max gap {{.Stats.MaxTickGap}}ms)</td></tr>
</table>
<form method="POST" action="/trigger"><button type="submit">STOP</button></form>

<h2>Watchdog</h2>
<table>
<tr><th>Health</th><td>{{.WatchdogHealth}}</td></tr>
<tr><th>Refreshes</th><td>{{.Watchdog.RefreshCount}}</td></tr>
<tr><th>Missed</th><td>{{.Watchdog.MissedCount}}</td></tr>
<tr><th>Timeouts</th><td>{{.Watchdog.TimeoutCount}}</td></tr>
<tr><th>Max interval</th><td>{{.Watchdog.MaxInterval}}ms</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Reset confirm</th><td>{{.Config.ResetConfirmMs}}ms</td></tr>
<tr><th>Stuck timeout</th><td>{{.Config.StuckTimeoutMs}}ms</td></tr>
<tr><th>Watchdog</th><td>{{.Config.WatchdogMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		StateName string
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		StateName: snap.State.String(),
	}
	indexTmpl.Execute(w, data)
}
