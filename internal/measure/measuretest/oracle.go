// Package measuretest provides an in-process line-counting oracle for tests.
package measuretest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var languages = map[string]string{
	".s":    "Assembly",
	".S":    "Assembly",
	".asm":  "Assembly",
	".rs":   "Rust",
	".c":    "C",
	".toml": "Toml",
}

// DirOracle walks a directory and renders `loc`-style output, counting blank
// lines, lines starting with a comment marker and everything else as code.
//
// Like loc in a Cargo checkout with the usual .gitignore, .git and target
// directories below dir are skipped; dir itself is always walked.
type DirOracle struct {
	Calls []string
}

func (o *DirOracle) Count(ctx context.Context, dir string) ([]byte, error) {
	o.Calls = append(o.Calls, dir)

	type counts struct{ files, lines, blank, comment, code int }
	byLang := make(map[string]*counts)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && (d.Name() == ".git" || d.Name() == "target") {
				return filepath.SkipDir
			}
			return nil
		}
		lang, ok := languages[filepath.Ext(path)]
		if !ok {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c := byLang[lang]
		if c == nil {
			c = &counts{}
			byLang[lang] = c
		}
		c.files++
		for _, line := range strings.Split(strings.TrimSuffix(string(b), "\n"), "\n") {
			c.lines++
			t := strings.TrimSpace(line)
			switch {
			case t == "":
				c.blank++
			case strings.HasPrefix(t, "//"), strings.HasPrefix(t, "#"), strings.HasPrefix(t, ";"):
				c.comment++
			default:
				c.code++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(byLang))
	for n := range byLang {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	sep := strings.Repeat("-", 80)
	fmt.Fprintln(&buf, sep)
	fmt.Fprintf(&buf, " %-20s %6s %12s %12s %12s %12s\n", "Language", "Files", "Lines", "Blank", "Comment", "Code")
	fmt.Fprintln(&buf, sep)
	for _, n := range names {
		c := byLang[n]
		fmt.Fprintf(&buf, " %-20s %6d %12d %12d %12d %12d\n", n, c.files, c.lines, c.blank, c.comment, c.code)
	}
	fmt.Fprintln(&buf, sep)
	return buf.Bytes(), nil
}

// WriteFile creates path (and parents) under root with the given content.
func WriteFile(root, path, content string) error {
	full := filepath.Join(root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}
