package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type column struct {
	title string
	right bool
}

func left(title string) column  { return column{title: title} }
func right(title string) column { return column{title: title, right: true} }

// printTable renders rows under cols. Short rows are padded with blanks.
func printTable(w io.Writer, cols []column, rows [][]string) {
	if len(cols) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.title
		align := text.AlignLeft
		if c.right {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	fmt.Fprintln(w, tw.Render())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type checkState int

const (
	checkInfo checkState = iota
	checkPass
	checkFail
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
)

func (s checkState) label() (string, string) {
	switch s {
	case checkPass:
		return "OK", ansiGreen
	case checkFail:
		return "FAIL", ansiRed
	default:
		return "INFO", ansiBlue
	}
}

// printCheck writes one "  Label:   [STATE] detail" line for doctor output.
func printCheck(w io.Writer, name string, state checkState, detail string, color bool) {
	tag, ansi := state.label()
	line := fmt.Sprintf("  %-22s [%s]", name+":", tag)
	if detail != "" {
		line += " " + detail
	}
	if color {
		line = ansi + line + ansiReset
	}
	fmt.Fprintln(w, line)
}

func printSection(w io.Writer, title string, color bool) {
	line := "== " + strings.TrimSpace(title) + " =="
	if color {
		line = ansiBlue + line + ansiReset
	}
	fmt.Fprintln(w, line)
}

// useColor reports whether w is a terminal.
func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var titleCaser = cases.Title(language.Und)

// stageLabel turns "bg-removal" into "Bg Removal" for human output.
func stageLabel(name string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(name), "-", " "))
}
