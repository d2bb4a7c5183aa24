package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/maintrack/internal/core"
)

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func (a *app) printKV(rows [][2]string) {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func (a *app) printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "no results")
		return
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func (a *app) printPreview(p *core.Preview) {
	s := p.Summary
	fmt.Fprintf(a.out, "%s: %d create, %d update, %d discontinue, %d invalid\n",
		p.Mode, s.Create, s.Update, s.Discontinue, s.Invalid)

	rows := make([][]string, 0, len(p.Changes))
	for _, c := range p.Changes {
		rows = append(rows, []string{string(c.Kind()), c.Key()})
	}
	a.printTable([]string{"KIND", "KEY"}, rows)
	for _, inv := range p.Invalid {
		fmt.Fprintf(a.out, "invalid: %s\n", inv.Reason)
	}
}

func (a *app) printDecode(rep core.DecodeReport, revision int64) {
	reset := "-"
	if len(rep.Reset) > 0 {
		reset = strings.Join(rep.Reset, ",")
	}
	a.printKV([][2]string{
		{"revision", fmt.Sprint(revision)},
		{"reset", reset},
		{"dropped", fmt.Sprint(rep.Dropped)},
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
