// Package templates holds the HTML components served to the browser and to
// HTMX requests.
package templates

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/a-h/templ"
)

// htmlWriter writes escaped HTML and keeps the first write error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) textf(format string, args ...any) {
	h.text(fmt.Sprintf(format, args...))
}

// ErrorAlert renders a user-facing error with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="alert alert-error" role="alert"><p class="alert-message">`)
		h.text(message)
		h.raw(`</p>`)
		if action != "" {
			h.raw(`<p class="alert-action">`)
			h.text(action)
			h.raw(`</p>`)
		}
		h.raw(`<p class="alert-code">Código: `)
		h.text(code)
		h.raw(`</p></div>`)
		return h.err
	})
}

func changeDetails(c core.Change) string {
	switch v := c.(type) {
	case core.CreateEquipment:
		return strings.TrimSpace(v.After.Name + " " + v.After.SectorName)
	case core.UpdateEquipment:
		return fieldList(v.Fields)
	case core.UpdatePlan:
		return fieldList(v.Fields)
	case core.CreatePlan:
		return v.After.Activity + " próxima " + v.After.NextDate
	case core.DiscontinueEquipment:
		return v.Before.Name
	case core.CreateSector:
		return v.Name
	}
	return ""
}

func fieldList(d core.FieldDiff) string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		fc := d[name]
		parts = append(parts, fmt.Sprintf("%s: %q → %q", name, fc.Before, fc.After))
	}
	return strings.Join(parts, "; ")
}

// PreviewTable renders a cached import preview with its apply button.
func PreviewTable(p *core.PreviewHandle) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		s := p.Preview.Summary

		h.raw(`<section class="preview" id="preview-`)
		h.text(p.ID)
		h.raw(`"><h2>`)
		h.textf("%s: %s", p.Preview.Mode, p.FileName)
		h.raw(`</h2><ul class="summary">`)
		for _, item := range []struct {
			label string
			n     int
		}{
			{"Criar", s.Create}, {"Atualizar", s.Update},
			{"Descontinuar", s.Discontinue}, {"Inválidas", s.Invalid},
		} {
			h.raw(`<li>`)
			h.textf("%s: %d", item.label, item.n)
			h.raw(`</li>`)
		}
		h.raw(`</ul>`)

		if len(p.Preview.MissingTypes) > 0 || len(p.Preview.MissingSectors) > 0 {
			h.raw(`<p class="missing-refs">`)
			h.textf("Serão criados: tipos [%s], setores [%s]",
				strings.Join(p.Preview.MissingTypes, ", "), strings.Join(p.Preview.MissingSectors, ", "))
			h.raw(`</p>`)
		}

		h.raw(`<table class="changes"><thead><tr><th>Ação</th><th>Chave</th><th>Detalhes</th></tr></thead><tbody>`)
		for _, c := range p.Preview.Changes {
			h.raw(`<tr><td>`)
			h.text(string(c.Kind()))
			h.raw(`</td><td>`)
			h.text(c.Key())
			h.raw(`</td><td>`)
			h.text(changeDetails(c))
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)

		if len(p.Preview.Invalid) > 0 {
			h.raw(`<table class="invalid"><thead><tr><th>Motivo</th></tr></thead><tbody>`)
			for _, inv := range p.Preview.Invalid {
				h.raw(`<tr><td>`)
				h.text(inv.Reason)
				h.raw(`</td></tr>`)
			}
			h.raw(`</tbody></table>`)
		}

		if !p.Preview.Empty() {
			h.raw(`<button hx-post="`)
			h.text(string(templ.URL("/api/imports/previews/" + p.ID + "/apply")))
			h.raw(`" hx-target="#preview-`)
			h.text(p.ID)
			h.raw(`" hx-swap="outerHTML">Aplicar</button>`)
		}
		h.raw(`</section>`)
		return h.err
	})
}

// ApplyResult renders the outcome of an applied preview.
func ApplyResult(res core.ApplyResult) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="alert alert-success" role="status">`)
		h.textf("Importação aplicada: %d criados, %d atualizados, %d descontinuados, %d ignorados.",
			res.Created, res.Updated, res.Discontinued, res.Skipped)
		h.raw(`</div>`)
		return h.err
	})
}

var dueLabels = map[core.DueState]string{
	core.DueOverdue:    "Atrasada",
	core.DueSoon:       "Próxima",
	core.DueOnSchedule: "Em dia",
	core.DueFulfilled:  "Realizada",
	core.DueUnknown:    "Sem data",
}

// Dashboard renders the landing page: dataset counts and open work orders.
func Dashboard(st core.DatasetStats, orders []core.WorkOrderView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="pt-BR"><head><meta charset="utf-8"><title>Manutenção</title>`)
		h.raw(`<script src="https://unpkg.com/htmx.org@2.0.4"></script></head><body><main>`)
		h.raw(`<h1>Manutenção de equipamentos</h1><dl class="stats">`)
		for _, item := range []struct {
			label string
			n     int
		}{
			{"Equipamentos ativos", st.ActiveEquipment},
			{"Planos ativos", st.ActivePlans},
			{"Setores", st.Sectors},
			{"Laudos", st.Reports},
			{"OS abertas", st.WorkOrders.Open},
			{"OS atrasadas", st.WorkOrders.Overdue},
		} {
			h.raw(`<dt>`)
			h.text(item.label)
			h.raw(`</dt><dd>`)
			h.textf("%d", item.n)
			h.raw(`</dd>`)
		}
		h.raw(`</dl>`)

		h.raw(`<form hx-post="/api/imports/equipment/preview" hx-encoding="multipart/form-data" hx-target="#preview">`)
		h.raw(`<input type="file" name="file" accept=".csv,.tsv,.txt,.xlsx,.xlsm"><button type="submit">Pré-visualizar</button></form>`)
		h.raw(`<div id="preview"></div>`)

		h.raw(`<h2>Ordens de serviço</h2><table class="work-orders"><thead><tr>`)
		h.raw(`<th>OS</th><th>Equipamento</th><th>Atividade</th><th>Vencimento</th><th>Situação</th></tr></thead><tbody>`)
		for _, o := range orders {
			h.raw(`<tr class="due-`)
			h.text(string(o.State))
			h.raw(`"><td>`)
			h.textf("%d", o.Sequence)
			h.raw(`</td><td>`)
			h.text(o.EquipmentKey)
			h.raw(`</td><td>`)
			h.text(o.Activity)
			h.raw(`</td><td>`)
			h.text(o.DueDate)
			h.raw(`</td><td>`)
			h.text(dueLabels[o.State])
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table></main></body></html>`)
		return h.err
	})
}
