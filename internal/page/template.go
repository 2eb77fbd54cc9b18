package page

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
)

//go:embed assets/run.html
var runTmpl string

type Params struct {
	RunID     string
	TaskType  string
	Prompt    string
	RequestID string
	Created   string
	Images    []string
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(i *do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("run").Parse(runTmpl))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator")
	log.Info("generating page", "run", params.RunID)

	var data bytes.Buffer
	if err := g.tmpl.Execute(&data, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}
