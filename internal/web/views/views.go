// Package views renders the HTML pages of the import service as templ
// components.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// page accumulates the first write error so components read top to bottom.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *page) rawf(format string, args ...any) {
	p.raw(fmt.Sprintf(format, args...))
}

func (p *page) render(ctx context.Context, c templ.Component) {
	if p.err == nil {
		p.err = c.Render(ctx, p.w)
	}
}

func (p *page) cell(s string) {
	p.raw("<td>")
	p.text(s)
	p.raw("</td>")
}

func (p *page) header(cols ...string) {
	p.raw("<thead><tr>")
	for _, c := range cols {
		p.raw("<th>")
		p.text(c)
		p.raw("</th>")
	}
	p.raw("</tr></thead>")
}

const styles = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;margin:1rem 0}td,th{border:1px solid #cbd2d9;padding:.3rem .6rem;text-align:left}
th{background:#f5f7fa}.stage{font-weight:600}.error{color:#b42318}.warning{color:#b54708}.muted{color:#7b8794}`

// Layout wraps body in the HTML document.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<!DOCTYPE html><html lang="ru"><head><meta charset="utf-8"><title>`)
		p.text(title)
		p.raw(`</title><style>` + styles + `</style></head><body>`)
		p.render(ctx, body)
		p.raw(`</body></html>`)
		return p.err
	})
}

// SessionList lists open sessions.
func SessionList(sessions []core.SessionView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h1>Employee imports</h1>")
		if len(sessions) == 0 {
			p.raw(`<p class="muted">No open imports.</p>`)
			return p.err
		}
		p.raw("<table>")
		p.header("Session", "Organization", "File", "Stage", "Last activity")
		p.raw("<tbody>")
		for _, s := range sessions {
			p.raw("<tr><td>")
			p.rawf(`<a href="%s">`, templ.EscapeString(string(sessionURL(s.ID))))
			p.text(s.ID)
			p.raw("</a></td>")
			p.cell(s.OwnerID)
			file := ""
			if s.Preview != nil {
				file = s.Preview.FileName
			}
			p.cell(file)
			p.cell(string(s.Stage))
			p.cell(s.LastActive.Format("2006-01-02 15:04:05"))
			p.raw("</tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

// Session shows one import: the current step, the plan, validation errors,
// conflicts and, once reported, the outcome.
func Session(v core.SessionView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h1>Import ")
		p.text(v.ID)
		p.raw("</h1><p>Step ")
		p.raw(strconv.Itoa(v.Step))
		p.raw(` of 7: <span class="stage">`)
		p.text(string(v.Stage))
		p.raw("</span></p>")

		if v.Error != "" {
			p.raw(`<p class="error">`)
			p.text(v.Error)
			p.raw("</p>")
		}
		if v.Preview != nil {
			p.raw("<p>File <b>")
			p.text(v.Preview.FileName)
			p.rawf("</b>, %d rows.", v.Preview.TotalRows)
			if len(v.Preview.Headers.MissingColumns) > 0 {
				p.raw(` <span class="error">Missing columns:`)
				for _, f := range v.Preview.Headers.MissingColumns {
					p.raw(" ")
					p.text(string(f))
				}
				p.raw("</span>")
			}
			p.raw("</p>")
		}
		if v.Progress != nil && v.Stage == core.StageExecuting {
			p.rawf("<p>Processed %d of %d rows.</p>", v.Progress.Done, v.Progress.Total)
		}
		if v.Plan != nil {
			p.render(ctx, plan(*v.Plan))
		}
		if v.Outcome != nil {
			p.render(ctx, outcome(*v.Outcome))
		}
		if len(v.ValidationErrors) > 0 {
			p.render(ctx, validationErrors(v.ValidationErrors))
		}
		if len(v.Conflicts) > 0 {
			p.render(ctx, conflicts(v.Conflicts))
		}
		if v.Stage != core.StageUpload {
			p.rawf(`<p><a href="%s">Download report</a></p>`,
				templ.EscapeString(string(templ.URL("/api/sessions/"+v.ID+"/report.xlsx"))))
		}
		return p.err
	})
}

func plan(s core.PlanSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h2>Plan</h2><table>")
		p.header("Create", "Update", "Unchanged", "Skip", "Invalid")
		p.rawf("<tbody><tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr></tbody></table>",
			s.Create, s.Update, s.Unchanged, s.Skip, s.Invalid)
		return p.err
	})
}

func outcome(o core.ImportOutcome) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h2>Result</h2><table>")
		p.header("Created", "Updated", "Skipped", "Failed", "Warnings")
		p.rawf("<tbody><tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr></tbody></table>",
			o.Created, o.Updated, o.Skipped, o.Failed(), o.Warnings())
		if len(o.Errors) == 0 {
			return p.err
		}
		p.raw("<table>")
		p.header("Row", "Last name", "Tax ID", "Error")
		p.raw("<tbody>")
		for _, e := range o.Errors {
			p.rawf(`<tr class="%s">`, templ.EscapeString(string(e.Severity)))
			p.cell(strconv.Itoa(e.RowIndex))
			p.cell(e.LastName)
			p.cell(e.TaxID)
			p.cell(e.Error)
			p.raw("</tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func validationErrors(errs []core.ValidationError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.rawf("<h2>Validation errors (%d rows)</h2><table>", len(errs))
		p.header("Row", "Last name", "Field", "Problem")
		p.raw("<tbody>")
		for _, ve := range errs {
			for _, fe := range ve.FieldErrors {
				p.raw("<tr>")
				p.cell(strconv.Itoa(ve.RowIndex))
				p.cell(ve.LastName)
				p.cell(fe.Field)
				p.cell(fe.Message)
				p.raw("</tr>")
			}
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func conflicts(cs []core.ConflictView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.rawf("<h2>Conflicts (%d)</h2><table>", len(cs))
		p.header("Row", "Tax ID", "Incoming", "Stored", "Differs in", "Decision")
		p.raw("<tbody>")
		for _, c := range cs {
			p.raw("<tr>")
			p.cell(strconv.Itoa(c.Incoming.RowIndex))
			p.cell(c.TaxID)
			p.cell(c.Incoming.FullName())
			p.cell(storedName(c.Existing))
			p.cell(strings.Join(c.Fields, ", "))
			decision := string(c.Resolution)
			if !c.Decided {
				decision += " (default)"
			}
			p.cell(decision)
			p.raw("</tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

// ErrorPage is the HTML form of an error response.
func ErrorPage(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<h1 class="error">`)
		p.text(msg.Message)
		p.raw("</h1>")
		if msg.Action != "" {
			p.raw("<p>")
			p.text(msg.Action)
			p.raw("</p>")
		}
		p.raw(`<p class="muted">Code `)
		p.text(msg.Code)
		p.raw("</p>")
		return p.err
	})
}

func sessionURL(id string) templ.SafeURL {
	return templ.URL("/sessions/" + id)
}

func storedName(e core.PersistedEmployee) string {
	return strings.Join(strings.Fields(e.LastName+" "+e.FirstName+" "+e.MiddleName), " ")
}
