package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// pageData feeds the index template.
type pageData struct {
	status.Snapshot
	Config vision.DetectionConfig
	Events []status.LogEntry
}

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
	"phaseClass": func(p string) string {
		switch p {
		case "PART_PLACED":
			return "placed"
		case "TRIMMING":
			return "trimming"
		}
		return "empty"
	},
	"orNA": func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Info.MachineName}} - Trimmer Monitor</title>
<style>
body { font-family: monospace; max-width: 1100px; margin: 1em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
.cols { display: flex; gap: 1.5em; flex-wrap: wrap; }
.stream img { width: 640px; max-width: 100%; border: 1px solid #333; background: #000; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 45%; }
.empty { color: #c00; font-weight: bold; }
.placed { color: green; font-weight: bold; }
.trimming { color: #b80; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.degraded { background: #c00; color: #fff; padding: 4px 8px; }
.hide { display: none; }
fieldset { margin: 0.5em 0; }
input[type=number] { width: 5em; }
#events { list-style: none; padding: 0; max-height: 20em; overflow-y: auto; }
#msg { min-height: 1.2em; }
</style>
</head>
<body>
<h1>{{.Info.MachineName}} <small>(machine {{.Info.MachineID}})</small></h1>
<p id="degraded" class="degraded{{if not .Degraded}} hide{{end}}">DEGRADED: <span id="last-error">{{.LastError}}</span></p>

<div class="cols">
<div class="stream">
<img src="/stream" alt="live stream">
</div>

<div>
<h2>Status</h2>
<table>
<tr><th>Phase</th><td id="phase" class="{{phaseClass (printf "%s" .Phase)}}">{{.Phase}}</td></tr>
<tr><th>Area</th><td id="area">{{.Area}}</td></tr>
<tr><th>Cycle</th><td id="cycle">{{if .CycleID}}{{.CycleID}}{{else}}-{{end}}</td></tr>
<tr><th>Lot</th><td id="lot">{{orNA .Lot}}</td></tr>
<tr><th>Total cycles</th><td id="total">{{.TotalCycles}}</td></tr>
<tr><th>Cycles / hour</th><td id="cph">{{.CyclesPerHour}}</td></tr>
<tr><th>Database</th><td id="store" class="{{if .StoreConnected}}connected{{else}}disconnected{{end}}">{{if .StoreConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td id="mqtt" class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}}) {{.Network.IP}}</td></tr>{{end}}
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
</table>

<h2>Calibration</h2>
<fieldset>
<legend>Region</legend>
x <input type="number" id="roi-x" value="{{.Config.Region.X}}" min="0">
y <input type="number" id="roi-y" value="{{.Config.Region.Y}}" min="0">
w <input type="number" id="roi-w" value="{{.Config.Region.W}}" min="1">
h <input type="number" id="roi-h" value="{{.Config.Region.H}}" min="1">
<button onclick="setRegion()">Apply</button>
</fieldset>
<fieldset>
<legend>Threshold <span id="threshold-val">{{.Config.Threshold}}</span></legend>
<input type="range" id="threshold" min="0" max="255" value="{{.Config.Threshold}}" oninput="setValue('threshold', this.value)">
</fieldset>
<fieldset>
<legend>Min area</legend>
<input type="number" id="min-area" value="{{.Config.MinArea}}" min="0">
<button onclick="setValue('min_area', document.getElementById('min-area').value)">Apply</button>
</fieldset>
<button onclick="post('/config/save')">Save to database</button>
<button onclick="post('/config/reload').then(function() { location.reload(); })">Reload from database</button>
<p id="msg"></p>
</div>
</div>

<h2>Recent events</h2>
<ul id="events">
{{range .Events}}<li>{{.String}}</li>
{{end}}</ul>

<p><a href="/status">JSON</a> | <a href="/snapshot.jpg">Snapshot</a></p>

<script>
(function() {
  var msg = document.getElementById("msg");

  window.post = function(url, body) {
    return fetch(url, {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(body || {})
    }).then(function(r) { return r.json(); }).then(function(res) {
      msg.textContent = res.ok ? "OK" : ("Error: " + res.error);
      return res;
    });
  };

  window.setRegion = function() {
    function v(id) { return parseInt(document.getElementById(id).value, 10); }
    post("/config/region", { x: v("roi-x"), y: v("roi-y"), w: v("roi-w"), h: v("roi-h") });
  };

  window.setValue = function(name, value) {
    if (name === "threshold") {
      document.getElementById("threshold-val").textContent = value;
    }
    post("/config/" + name, { value: parseInt(value, 10) });
  };

  function conn(el, ok) {
    el.textContent = ok ? "connected" : "disconnected";
    el.className = ok ? "connected" : "disconnected";
  }

  function refresh() {
    fetch("/status").then(function(r) { return r.json(); }).then(function(d) {
      var s = d.status;
      var phase = document.getElementById("phase");
      phase.textContent = s.phase;
      phase.className = s.phase === "PART_PLACED" ? "placed" : s.phase === "TRIMMING" ? "trimming" : "empty";
      document.getElementById("area").textContent = s.area;
      document.getElementById("cycle").textContent = s.cycle_id || "-";
      document.getElementById("lot").textContent = s.active_lot || "N/A";
      document.getElementById("total").textContent = s.total_cycles;
      document.getElementById("cph").textContent = s.cycles_per_hour;
      conn(document.getElementById("store"), s.store.connected);
      conn(document.getElementById("mqtt"), s.mqtt.connected);
      document.getElementById("degraded").className = s.degraded ? "degraded" : "degraded hide";
      document.getElementById("last-error").textContent = s.last_error || "";
    }).catch(function() {});

    fetch("/events").then(function(r) { return r.json(); }).then(function(list) {
      var ul = document.getElementById("events");
      ul.innerHTML = "";
      list.forEach(function(e) {
        var li = document.createElement("li");
        li.textContent = "[" + new Date(e.time).toLocaleTimeString() + "] " + e.message;
        ul.appendChild(li);
      });
    }).catch(function() {});
  }

  setInterval(refresh, 1000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, data pageData) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	return indexTmpl.Execute(w, struct {
		pageData
		Uptime time.Duration
	}{
		pageData: data,
		Uptime:   data.Uptime(),
	})
}
