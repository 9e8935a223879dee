package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ggonzalez94/defi-tokens/internal/config"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

// Options control envelope rendering.
type Options struct {
	Mode         string
	SelectFields []string
	ResultsOnly  bool
}

func OptionsFrom(settings config.Settings) Options {
	return Options{Mode: settings.OutputMode, SelectFields: settings.SelectFields, ResultsOnly: settings.ResultsOnly}
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.SelectFields) > 0 {
		data = project(data, opts.SelectFields)
	}

	if opts.ResultsOnly {
		if opts.Mode != "plain" {
			return encodeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if opts.Mode != "plain" {
		env.Data = data
		return encodeJSON(w, env)
	}

	if env.Error != nil {
		_, err := fmt.Fprintf(w, "error %s (%d): %s\n", env.Error.Type, env.Error.Code, env.Error.Message)
		return err
	}
	if err := renderPlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints a list of objects as an aligned table with one column
// per key, and anything else as key=value pairs.
func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch normalized := normalizeValue(data).(type) {
	case []any:
		if len(normalized) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		rows := make([]map[string]any, 0, len(normalized))
		for _, item := range normalized {
			m, ok := item.(map[string]any)
			if !ok {
				return renderLines(w, normalized)
			}
			rows = append(rows, m)
		}
		return renderTable(w, rows)
	default:
		line, err := toLine(normalized)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func renderLines(w io.Writer, items []any) error {
	for _, item := range items {
		line, err := toLine(item)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func renderTable(w io.Writer, rows []map[string]any) error {
	columns := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			columns[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(columns))
	for k := range columns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(keys, "\t"))
	for _, row := range rows {
		cells := make([]string, len(keys))
		for i, k := range keys {
			cells[i] = cell(row[k])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	case map[string]any, []any:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, cell(t[k])))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
