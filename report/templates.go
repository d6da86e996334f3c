package report

import (
	"html/template"
	"strconv"

	"github.com/gwdetchar/omegascan/gps"
)

const baseTmpl = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
{{.RefreshMeta}}
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 0 2em; }
nav a { margin-right: 1em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 0.2em 0.6em; text-align: right; }
img { max-width: 100%; }
.null { padding: 2em; background: #f5f5f5; }
</style>
</head>
<body class="{{.Context}}">
<header>
<h1>{{.Title}}</h1>
<p>{{.UTC}} UTC{{if .RunID}} &middot; run {{.RunID}}{{end}}{{if .Refresh}} &middot; scan in progress, this page refreshes automatically{{end}}</p>
</header>
{{end}}

{{define "foot"}}<footer>
<h2>Configuration</h2>
<ul>{{range .Configs}}<li>{{.}}</li>{{end}}</ul>
<p><a href="data/summary.csv">Summary record</a> &middot; <a href="about/">About this scan</a></p>
</footer>
</body>
</html>
{{end}}

{{define "qscan"}}{{template "head" .}}
<nav>{{range .Blocks}}<a href="#{{.ID}}">{{.Name}}</a>{{end}}</nav>
{{if .Correlated}}<section id="primary">
<h2>Primary channel: {{.Primary}}</h2>
<img src="plots/primary.png" alt="{{.Primary}} whitened">
</section>{{end}}
{{$correlated := .Correlated}}
{{range .Blocks}}<section id="{{.ID}}">
<h2>{{.Name}}</h2>
{{range .Channels}}<article id="{{anchor .Name}}">
<h3>{{.Name}}</h3>
<table>
<tr><th>Central time</th><th>Central frequency (Hz)</th><th>Q</th><th>Energy</th><th>SNR</th>{{if $correlated}}<th>Correlation</th><th>Significance (&sigma;)</th><th>Delay (ms)</th>{{end}}</tr>
<tr><td>{{gps .Tile.Time}}</td><td>{{num .Tile.Frequency}}</td><td>{{num .Tile.Q}}</td><td>{{num .Tile.Energy}}</td><td>{{num .Tile.SNR}}</td>{{if $correlated}}{{with .Correlation}}<td>{{num .Max}}</td><td>{{printf "%.1f" .Significance}}</td><td>{{num .Delay}}</td>{{else}}<td colspan="3">n/a</td>{{end}}{{end}}</tr>
</table>
{{range $kind, $files := .Plots}}<div class="{{$kind}}">{{range $files}}<a href="plots/{{.}}"><img src="plots/{{.}}" alt="{{.}}"></a>{{end}}</div>
{{end}}</article>
{{end}}</section>
{{end}}
{{template "foot" .}}{{end}}

{{define "null"}}{{template "head" .}}
<div class="null"><p>{{.Reason}}</p></div>
{{template "foot" .}}{{end}}

{{define "about"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>About | {{.Title}}</title></head>
<body>
<h1>About {{.Title}}</h1>
<table>
<tr><th>Run</th><td>{{.RunID}}</td></tr>
<tr><th>GPS</th><td>{{gps .GPS}}</td></tr>
{{range $k, $v := .Params}}<tr><th>{{$k}}</th><td>{{$v}}</td></tr>
{{end}}</table>
{{range .ConfigFiles}}<h2>{{.Path}}</h2>
<pre>{{.Content}}</pre>
{{end}}
</body>
</html>
{{end}}`

var templates = template.Must(template.New("report").Funcs(template.FuncMap{
	"anchor": anchor,
	"gps":    gps.Format,
	"num": func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
}).Parse(baseTmpl))
