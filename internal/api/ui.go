package api

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <meta http-equiv="refresh" content="20"/>
  <title>Harvester</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:1080px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:6px 10px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    table{width:100%;border-collapse:collapse}
    td,th{text-align:left;padding:6px 8px;border-bottom:1px solid #eee;vertical-align:top}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1>Harvester</h1>
    <div class="muted">{{len .Sources}} sources, {{len .Runs}} running</div>
  </header>
  {{template "content" .}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span> · metrics: <a class="mono" href="/metrics">/metrics</a></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "layout" .}}
{{end}}

{{define "content"}}
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  <div class="card">
    <h2>Sources</h2>
    {{if .Sources}}
    <table>
      <tr><th>Source</th><th>Kind</th><th>Schedule</th><th>Last harvested</th><th>Status</th><th></th></tr>
      {{range .Sources}}
      <tr>
        <td><a class="mono" href="/api/v1/sources/{{.ID}}">{{.ID}}</a><div class="muted">{{.Name}}</div></td>
        <td>{{.Kind}}{{if not .Enabled}} <span class="muted">(disabled)</span>{{end}}</td>
        <td class="mono">{{.Schedule}}</td>
        <td class="muted">{{if .LastHarvested}}{{.LastHarvested.Format "2006-01-02 15:04:05"}}{{else}}never{{end}}</td>
        <td>{{if .Progress}}<span class="status">{{.Progress.Status}}</span>{{end}}</td>
        <td>
          {{if .Running}}
          <form method="post" action="/ui/sources/{{.ID}}/abort"><button class="btn secondary" type="submit">Abort</button></form>
          {{else}}
          <form method="post" action="/ui/sources/{{.ID}}/run"><button class="btn" type="submit">Run now</button></form>
          {{end}}
        </td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">No sources configured</div>
    {{end}}
  </div>

  <div class="card">
    <h3>Active runs</h3>
    {{if .Runs}}
      <ul>
      {{range .Runs}}
        <li><span class="mono">{{.SourceID}}</span> · {{printf "%.0f" .AgeSeconds}}s · {{.Status}}</li>
      {{end}}
      </ul>
    {{else}}
      <div class="muted">Nothing running</div>
    {{end}}
  </div>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/ui") })
	router.GET("/ui", a.UIHome)
	router.POST("/ui/sources/:id/run", a.UIRun)
	router.POST("/ui/sources/:id/abort", a.UIAbort)
}

// UIHome renders the status page
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home", a.page(c, ""))
}

// UIRun triggers a source and redirects back to the status page
func (a *API) UIRun(c *gin.Context) {
	id := c.Param("id")
	if err := a.harvester.RunNow(c.Request.Context(), id); err != nil {
		log.Warn().Str("source_id", id).Err(err).Msg("ui run rejected")
		c.HTML(http.StatusConflict, "home", a.page(c, err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui")
}

// UIAbort aborts a run and redirects back to the status page
func (a *API) UIAbort(c *gin.Context) {
	id := c.Param("id")
	if err := a.harvester.Abort(id); err != nil {
		c.HTML(http.StatusNotFound, "home", a.page(c, err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui")
}

func (a *API) page(c *gin.Context, errMsg string) gin.H {
	sources := a.harvester.Sources(c.Request.Context())
	rows := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, a.toSourceResponse(src))
	}
	return gin.H{"Sources": rows, "Runs": a.activeRuns(), "Error": errMsg}
}
