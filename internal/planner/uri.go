package planner

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

// uriData is what URL templates see, e.g.
//
//	https://host/pr_{{.Time.Format "2006-01"}}.bin
//	s3://dem/{{ns .Bounds.Y1}}{{printf "%02d" (abs (floor .Bounds.Y1))}}.hgt
type uriData struct {
	Dataset  string
	Variable string
	Index    int
	Row      int
	Col      int
	Cell     string
	Time     time.Time
	Bounds   model.BBox
}

var uriFuncs = template.FuncMap{
	"floor": func(v float64) int { return int(math.Floor(v)) },
	"abs": func(v int) int {
		if v < 0 {
			return -v
		}
		return v
	},
	"ns": func(lat float64) string {
		if lat < 0 {
			return "S"
		}
		return "N"
	},
	"ew": func(lon float64) string {
		if lon < 0 {
			return "W"
		}
		return "E"
	},
}

type uriTemplate struct {
	t *template.Template
}

func parseURITemplate(ds model.DatasetDescriptor) (*uriTemplate, error) {
	t, err := template.New(ds.ID).Funcs(uriFuncs).Option("missingkey=error").Parse(ds.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: parse url_template: %w", ds.ID, err)
	}
	return &uriTemplate{t: t}, nil
}

func (u *uriTemplate) render(ds model.DatasetDescriptor, s tileSpec, bounds model.BBox) (string, error) {
	var sb strings.Builder
	err := u.t.Execute(&sb, uriData{
		Dataset:  ds.ID,
		Variable: ds.Variable,
		Index:    s.index,
		Row:      s.row,
		Col:      s.col,
		Cell:     s.cell,
		Time:     s.time,
		Bounds:   bounds,
	})
	if err != nil {
		return "", fmt.Errorf("dataset %s: render url for tile %d: %w", ds.ID, s.index, err)
	}
	return sb.String(), nil
}
