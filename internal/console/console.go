package console

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/redact"
	"github.com/straja-ai/liverstage/internal/schema"
)

const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed templates/*.html
var templateFS embed.FS

// PredictFunc runs one prediction for the console. The server supplies it so
// console predictions are audited like API ones.
type PredictFunc func(ctx context.Context, variant string, features inference.FeatureVector) (*inference.Result, error)

// Console renders the data-entry forms and prediction results.
type Console struct {
	registry *pipeline.Registry
	predict  PredictFunc
	tmpl     *template.Template
}

type choiceView struct {
	Value    string
	Selected bool
}

type fieldView struct {
	schema.Field
	Value   string
	Step    string
	HasMin  bool
	HasMax  bool
	MinText string
	MaxText string
	Normal  string
	Options []choiceView
}

type pageData struct {
	Title      string
	Variant    string
	Variants   []string
	Pipelines  []pipeline.Info
	Fields     []fieldView
	ScalerNote string
	Result     *inference.Result
	Error      string
}

func New(reg *pipeline.Registry, predict PredictFunc) (*Console, error) {
	if reg == nil {
		return nil, errors.New("console: registry is nil")
	}
	if predict == nil {
		predict = func(ctx context.Context, variant string, features inference.FeatureVector) (*inference.Result, error) {
			p, err := reg.Get(variant)
			if err != nil {
				return nil, err
			}
			return p.Predict(ctx, features)
		}
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("console: parse templates: %w", err)
	}
	return &Console{registry: reg, predict: predict, tmpl: tmpl}, nil
}

// Handler serves the console under /console/.
func (c *Console) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RobotsTagHeader, RobotsTagValue)

		variant := strings.Trim(strings.TrimPrefix(r.URL.Path, "/console"), "/")
		if variant == "" {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			c.renderIndex(w)
			return
		}

		p, err := c.registry.Get(variant)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			c.render(w, http.StatusOK, "form", c.formPage(p, p.Schema().Defaults()))
		case http.MethodPost:
			c.handleSubmit(w, r, p)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (c *Console) renderIndex(w http.ResponseWriter) {
	variants := c.registry.Variants()
	infos := make([]pipeline.Info, 0, len(variants))
	for _, v := range variants {
		if p, err := c.registry.Get(v); err == nil {
			infos = append(infos, p.Info())
		}
	}
	c.render(w, http.StatusOK, "index", pageData{
		Title:     "Liver Disease Prediction",
		Variants:  variants,
		Pipelines: infos,
	})
}

func (c *Console) handleSubmit(w http.ResponseWriter, r *http.Request, p *pipeline.Pipeline) {
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	sch := p.Schema()
	values, err := ParseForm(sch, r.PostForm)
	if err == nil {
		err = sch.CheckRanges(values)
	}
	if err != nil {
		page := c.formPage(p, values)
		page.Error = err.Error()
		c.render(w, http.StatusBadRequest, "form", page)
		return
	}

	res, err := c.predict(r.Context(), p.Variant(), values)
	page := c.formPage(p, values)
	if err != nil {
		redact.Logf("console: %s prediction failed: %v", p.Variant(), err)
		page.Error = "Prediction failed: " + err.Error()
		c.render(w, http.StatusUnprocessableEntity, "form", page)
		return
	}
	page.Result = res
	c.render(w, http.StatusOK, "form", page)
}

// ParseForm reads one value per schema field. Blank fields take the
// field's default.
func ParseForm(sch *schema.Schema, form map[string][]string) (inference.FeatureVector, error) {
	out := make(inference.FeatureVector, sch.Len())
	for i, f := range sch.Fields {
		raw := ""
		if vals := form[f.Name]; len(vals) > 0 {
			raw = strings.TrimSpace(vals[0])
		}
		if raw == "" {
			out[i] = f.Default
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", f.Label, raw)
		}
		out[i] = v
	}
	return out, nil
}

func (c *Console) formPage(p *pipeline.Pipeline, values []float64) pageData {
	sch := p.Schema()
	if len(values) != sch.Len() {
		values = sch.Defaults()
	}
	fields := make([]fieldView, len(sch.Fields))
	for i, f := range sch.Fields {
		fv := fieldView{
			Field:   f,
			Value:   formatFloat(values[i]),
			Step:    "any",
			HasMin:  f.Min != 0 || f.Max != 0,
			HasMax:  f.Max != 0,
			MinText: formatFloat(f.Min),
			MaxText: formatFloat(f.Max),
		}
		if f.Integer {
			fv.Step = "1"
		}
		if f.NormalLow != 0 || f.NormalHigh != 0 {
			fv.Normal = formatFloat(f.NormalLow) + " - " + formatFloat(f.NormalHigh)
		}
		for _, ch := range f.Choices {
			fv.Options = append(fv.Options, choiceView{Value: formatFloat(ch), Selected: ch == values[i]})
		}
		fields[i] = fv
	}
	return pageData{
		Title:      sch.Title,
		Variant:    sch.Variant,
		Variants:   c.registry.Variants(),
		Fields:     fields,
		ScalerNote: p.Info().ScalerNote,
	}
}

func (c *Console) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf strings.Builder
	if err := c.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		redact.Logf("console: render %s: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
