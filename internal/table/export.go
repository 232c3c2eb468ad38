package table

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/neuhoffm/firecms/internal/datasource"
)

var ErrExportDisabled = errors.New("export is disabled for this collection")

// Export пишет CSV: колонка id и колонки свойств. selectedOnly — только
// выбранные строки, иначе вся коллекция с фильтром и сортировкой.
func (e *Engine) Export(ctx context.Context, w io.Writer, selectedOnly bool) error {
	if !e.coll.Exportable {
		return ErrExportDisabled
	}
	var rows []datasource.Entity
	if selectedOnly {
		rows = e.Selected()
	} else {
		var err error
		rows, err = e.ds.FetchCollection(ctx, e.coll.Path, datasource.Query{Filter: e.coll.Filter, Sort: e.coll.Sort})
		if err != nil {
			return fmt.Errorf("export %s: %w", e.coll.Path, err)
		}
	}

	var cols []Column
	for _, c := range e.columns {
		if c.Kind == KindIdentity || c.Kind == KindProperty {
			cols = append(cols, c)
		}
	}
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Key
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			rec[i] = formatCell(c.Value(r))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
