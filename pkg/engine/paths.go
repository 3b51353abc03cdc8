package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/docseek/internal/types"
)

// ExpandPaths resolves directories (recursively, PDF files only) and glob
// patterns into a sorted, de-duplicated file list. Plain paths are kept
// as given even when they do not exist so that indexing reports them.
func ExpandPaths(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err == nil && info.IsDir():
			var found []string
			err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isPDF(path) {
					found = append(found, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("%w: walking %s: %v", types.ErrIO, p, err)
			}
			sort.Strings(found)
			for _, f := range found {
				add(f)
			}
		case err != nil && strings.ContainsAny(p, "*?["):
			matches, err := filepath.Glob(p)
			if err != nil {
				return nil, fmt.Errorf("%w: bad pattern %q: %v", types.ErrInvalidInput, p, err)
			}
			sort.Strings(matches)
			for _, m := range matches {
				add(m)
			}
		default:
			add(p)
		}
	}
	return files, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
