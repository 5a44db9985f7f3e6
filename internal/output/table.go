package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"asmharvest/internal/measure"
)

// tableHeader matches a pandas DataFrame.to_csv layout: an unnamed leading
// row-index column followed by the report fields.
var tableHeader = []string{"", "Crate", "Language", "Files", "Lines", "Blank", "Comment", "Code"}

// WriteTable renders reports as a comma-separated table at path, replacing any
// existing file. An empty slice still produces the header row.
func WriteTable(path string, reports []measure.Report) error {
	f, err := createWithParents(path)
	if err != nil {
		return fmt.Errorf("create table %s: %w", path, err)
	}
	if err := writeTable(f, reports); err != nil {
		_ = f.Close()
		return fmt.Errorf("write table %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close table %s: %w", path, err)
	}
	return nil
}

func writeTable(w io.Writer, reports []measure.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tableHeader); err != nil {
		return err
	}
	for i, r := range reports {
		row := []string{
			strconv.Itoa(i),
			r.Crate,
			r.Language,
			strconv.Itoa(r.Files),
			strconv.Itoa(r.Lines),
			strconv.Itoa(r.Blank),
			strconv.Itoa(r.Comment),
			strconv.Itoa(r.Code),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
