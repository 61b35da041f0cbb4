package utils

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandFiles turns a mix of files and directories into a sorted file list.
// Directories are walked recursively, skipping hidden ones, and only files
// whose extension is in exts are kept; an empty exts keeps every file. Files
// named explicitly are always kept.
func ExpandFiles(paths []string, exts []string) ([]string, error) {
	keep := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		keep[ext] = true
	}

	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}

			if len(keep) == 0 || keep[strings.ToLower(filepath.Ext(path))] {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}
