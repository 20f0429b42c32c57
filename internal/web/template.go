package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
	"github.com/sweeney/lockbox/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"dhms": func(d time.Duration) string {
		days, h, m, sec := logic.SplitDHMS(d)
		if days > 0 {
			return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, sec)
		}
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	},
	"seconds": func(n int64) time.Duration { return time.Duration(n) * time.Second },
	"div":     func(a, b int64) int64 { return a / b },
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Lockbox</title>
<style>
body { font: 14px/1.4 ui-monospace, monospace; background: #111; color: #ddd; max-width: 34em; margin: 1.5em auto; padding: 0 1em; }
h1 { font-size: 1.3em; letter-spacing: .1em; }
h2 { font-size: 1em; color: #888; text-transform: uppercase; margin-top: 1.5em; }
dl { display: grid; grid-template-columns: 12em 1fr; gap: 2px 1em; }
dt { color: #999; }
dd { margin: 0; }
.locked, .disconnected { color: #f55; }
.unlocked, .connected { color: #5d5; }
a { color: #8af; }
</style>
</head>
<body>
<h1>Lockbox</h1>

<h2>Box</h2>
<dl>
<dt>Mode</dt><dd id="mode">{{.Box.Mode}}</dd>
<dt>State</dt><dd id="state" class="{{if .Box.Locked}}locked{{else}}unlocked{{end}}">{{.Box.State}}</dd>
{{if .Box.Locked}}<dt>Remaining</dt><dd id="remaining">{{if .Box.LockEnd}}{{dhms (seconds .Box.RemainingSeconds)}}{{else}}open-ended{{end}}</dd>
{{else}}<dt>Set time</dt><dd>{{.Box.SetTime}}</dd>
{{end}}<dt>Lid</dt><dd>{{if .Box.LidClosed}}closed{{else}}open{{end}}</dd>
<dt>Latch retracted</dt><dd>{{yesno .Box.LatchRetracted}}</dd>
<dt>Child lock</dt><dd>{{yesno .Box.ChildLock}}</dd>
<dt>Streak</dt><dd>{{.Box.Progress}}/21</dd>
<dt>Fortress codes left</dt><dd>{{.Box.FortressLeft}}</dd>
{{if .Box.Message}}<dt>Message</dt><dd>{{.Box.Message}}</dd>
{{end}}<dt>Panel ready</dt><dd>{{yesno .Ready}}</dd>
</dl>

<h2>MQTT</h2>
<dl>
<dt>Broker</dt><dd>{{if .MQTT.Broker}}{{.MQTT.Broker}}{{else}}none{{end}}</dd>
<dt>Link</dt><dd class="{{if .MQTT.Connected}}connected{{else}}disconnected{{end}}">{{if .MQTT.Connected}}up{{else}}down{{end}}</dd>
</dl>

<h2>Since start</h2>
<dl>
<dt>Locks / unlocks</dt><dd>{{.Counts.Locks}} / {{.Counts.Unlocks}}</dd>
<dt>Extends</dt><dd>{{.Counts.Extends}}</dd>
<dt>Rejected codes</dt><dd>{{.Counts.Rejected}}</dd>
<dt>Check-ins / rewards</dt><dd>{{.Counts.Checkins}} / {{.Counts.Rewards}}</dd>
<dt>Uptime</dt><dd>{{dhms .Uptime}} (since {{.StartTime}})</dd>
<dt>Poll / debounce</dt><dd>{{.Config.PollMs}}ms / {{.Config.DebounceMs}}ms</dd>
<dt>Heartbeat</dt><dd>{{if eq .Config.HeartbeatMs 0}}off{{else}}{{dhms (seconds (div .Config.HeartbeatMs 1000))}}{{end}}</dd>
<dt>HTTP</dt><dd>{{.Config.HTTPPort}}</dd>
</dl>

<p><a href="/index.json">index.json</a> &middot; <a href="/sessions.json">sessions.json</a></p>
</body>
</html>
`

// renderHTML renders the page from the same view the JSON endpoint serves.
func renderHTML(w io.Writer, snap status.Snapshot) {
	indexTmpl.Execute(w, struct {
		status.StatusInner
		Uptime time.Duration
	}{
		StatusInner: status.Build(snap),
		Uptime:      snap.Uptime(),
	})
}
