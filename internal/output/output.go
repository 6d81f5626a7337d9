// Package output renders CLI results as tables, markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// JSON renders v as indented JSON.
func JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// grid is a tabular view of a value that also has a JSON form.
type grid struct {
	title  string
	header table.Row
	rows   []table.Row
	footer table.Row
	raw    any
}

func (g grid) render(format Format) (string, error) {
	if format == FormatJSON {
		return JSON(g.raw)
	}

	t := table.NewWriter()
	if g.title != "" {
		t.SetTitle(g.title)
	}
	t.AppendHeader(g.header)
	t.AppendRows(g.rows)
	if len(g.footer) > 0 {
		t.AppendFooter(g.footer)
	}

	if format == FormatMarkdown {
		return t.RenderMarkdown(), nil
	}
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}
