package api

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templateFS embed.FS

var runTemplate = template.Must(template.New("run.html").Funcs(template.FuncMap{
	"json": func(v any) string {
		if v == nil {
			return ""
		}
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return ""
		}
		return string(b)
	},
	"pct": func(f float64) float64 { return f * 100 },
	"score": func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', 3, 64)
	},
}).ParseFS(templateFS, "templates/run.html"))

// visualizeDecisionCap bounds decisions rendered per step so huge
// steps stay viewable in a browser.
const visualizeDecisionCap = 50

type visualizeStep struct {
	StepOut
	Accepted int
	Rejected int
	Pending  int
	Shown    []DecisionOut
	Hidden   int
}

type visualizePage struct {
	Run   *RunDetailResponse
	Steps []visualizeStep
}

func (h *Handler) handleVisualizeRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	detail, err := h.loadRunDetail(r, runID, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, detail)
		return
	}

	page := visualizePage{Run: detail}
	for _, step := range detail.Steps {
		vs := visualizeStep{StepOut: step}
		for _, d := range step.Decisions {
			switch d.DecisionType {
			case "accepted":
				vs.Accepted++
			case "rejected":
				vs.Rejected++
			case "pending":
				vs.Pending++
			}
		}
		vs.Shown = step.Decisions
		if len(vs.Shown) > visualizeDecisionCap {
			vs.Hidden = len(vs.Shown) - visualizeDecisionCap
			vs.Shown = vs.Shown[:visualizeDecisionCap]
		}
		page.Steps = append(page.Steps, vs)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := runTemplate.Execute(w, page); err != nil {
		h.logger.Error("render run view", "error", err, "run_id", runID)
	}
}
