package measure

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Row is one per-language line of line-counting output.
type Row struct {
	Language string
	Files    int
	Lines    int
	Blank    int
	Comment  int
	Code     int
}

// ParseRows extracts language rows from `loc`-style table output:
//
//	--------------------------------------------------------------------------------
//	 Language             Files        Lines        Blank      Comment         Code
//	--------------------------------------------------------------------------------
//	 Rust                    12         3000          300          200         2500
//	 GNU Style Assembly       1          120           10           20           90
//
// The language name may contain spaces; the trailing five columns must be
// integers. Header, separator and unparsable lines are skipped.
func ParseRows(out []byte) []Row {
	var rows []Row
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if row, ok := parseRow(sc.Text()); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func parseRow(line string) (Row, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Row{}, false
	}
	nums := fields[len(fields)-5:]
	var vals [5]int
	for i, f := range nums {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 {
			return Row{}, false
		}
		vals[i] = v
	}
	lang := strings.Join(fields[:len(fields)-5], " ")
	if lang == "" {
		return Row{}, false
	}
	return Row{
		Language: lang,
		Files:    vals[0],
		Lines:    vals[1],
		Blank:    vals[2],
		Comment:  vals[3],
		Code:     vals[4],
	}, true
}

// FindLanguage returns the first row whose language equals lang exactly.
func FindLanguage(rows []Row, lang string) (Row, bool) {
	for _, r := range rows {
		if r.Language == lang {
			return r, true
		}
	}
	return Row{}, false
}
