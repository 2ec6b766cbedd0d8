package board

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"optibench/internal/model"
	"optibench/pkg/utils/response"
)

const pageName = "leaderboard"

var pageFuncs = template.FuncMap{
	"fmtScore": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.3f", *v)
	},
	"fmtPct": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", *v)
	},
	"fmtAhead": func(v *int) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%d", *v)
	},
	// Per-problem lines: withheld verdicts show "?", incorrect runs are
	// marked FAIL next to their zero score.
	"fmtProblem": func(p model.PerProblem) string {
		if p.Score == nil {
			return p.Problem + ": ?"
		}
		if p.Correct != nil && !*p.Correct {
			return fmt.Sprintf("%s: %.3f (FAIL)", p.Problem, *p.Score)
		}
		return fmt.Sprintf("%s: %.3f", p.Problem, *p.Score)
	},
}

// pageTemplate is the server-rendered leaderboard. It is deliberately
// dependency-free markup; the JSON API is the programmatic surface.
var pageTemplate = template.Must(template.New(pageName).Funcs(pageFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="15">
<title>OptiBench Leaderboard</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 0.4em 0.8em; text-align: left; }
tr.error td { color: #a00; }
.instructions { max-width: 50em; margin-bottom: 1.5em; }
details { margin-top: 0.3em; font-size: 0.9em; }
.queue { margin-top: 2em; color: #555; }
form { margin-top: 2em; }
</style>
</head>
<body>
<h1>OptiBench Leaderboard</h1>
<div class="instructions">
<h2>Instructions</h2>
<ul>
<li><strong>What to submit:</strong> a <code>.zip</code> containing <code>my-agent.py</code> at the top level (no extra parent directory).</li>
<li><strong>Name field:</strong> use the exact same name for all of your submissions so your runs stay grouped together.</li>
<li><strong>Scoring:</strong> each benchmark problem contributes <code>1.0 + improvement_ms/1000</code> when your optimized code stays correct, and <code>0</code> when it fails correctness.</li>
</ul>
</div>
<table>
<tr><th>Rank</th><th>Name</th><th>Score</th><th>Latency&nbsp;Reduction</th><th>Status</th><th>Completed</th></tr>
{{range .Entries}}
<tr{{if .ErrorMessage}} class="error"{{end}}>
<td>{{.Rank}}</td>
<td>{{.Name}}</td>
<td>{{fmtScore .Score}}{{if .PerProblem}}
<details><summary>per-problem</summary>
<ul>
{{range .PerProblem}}<li>{{fmtProblem .}}</li>
{{end}}</ul>
</details>{{end}}</td>
<td>{{fmtPct .LatencyReduction}}</td>
<td>{{if .ErrorMessage}}{{.ErrorMessage}}{{else}}ok{{end}}</td>
<td>{{.CompletedAt.Format "2006-01-02 15:04:05"}}</td>
</tr>
{{else}}
<tr><td colspan="6"><em>No runs submitted yet.</em></td></tr>
{{end}}
</table>
{{if .Queue}}
<div class="queue">
<h2>In progress</h2>
<ul>
{{range .Queue}}
<li>{{.Name}} &mdash; {{.State}}{{if .Ahead}} ({{fmtAhead .Ahead}} ahead){{end}}</li>
{{end}}
</ul>
</div>
{{end}}
<form action="/submit" method="post" enctype="multipart/form-data">
<h2>Submit</h2>
<label>Name: <input type="text" name="name" required></label>
<label>Archive: <input type="file" name="file" accept=".zip" required></label>
<button type="submit">Upload</button>
</form>
</body>
</html>
`))

// Controller serves the leaderboard page and API.
type Controller struct {
	service *Service
}

// NewController creates a board controller.
func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

// RegisterRoutes mounts the board endpoints.
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(pageTemplate)
	r.GET("/", c.Page)
	r.GET("/api/leaderboard", c.Leaderboard)
}

// Page renders the HTML leaderboard.
func (c *Controller) Page(ctx *gin.Context) {
	view, err := c.service.View(ctx.Request.Context())
	if err != nil {
		ctx.String(http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	ctx.HTML(http.StatusOK, pageName, view)
}

// Leaderboard returns the leaderboard as JSON.
func (c *Controller) Leaderboard(ctx *gin.Context) {
	view, err := c.service.View(ctx.Request.Context())
	if err != nil {
		response.Error(ctx, err)
		return
	}
	response.Success(ctx, view)
}
