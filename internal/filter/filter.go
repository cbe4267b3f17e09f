// Package filter selects which files are eligible for analysis.
package filter

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/yourorg/vulnscan/internal/config"
)

// FilterConfig is an alias of config.FilterConfig.
type FilterConfig = config.FilterConfig

// Apply drops paths matching the ignore rules. Pure and order-preserving.
func Apply(paths []string, cfg FilterConfig) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if ignored(p, cfg) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Walk collects candidate files under root, applying the ignore rules.
// When recursive is false only root's direct children are considered.
func Walk(root string, recursive bool, cfg FilterConfig) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || ignoredDir(name, cfg.IgnoreDirs) {
				return filepath.SkipDir
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if ignored(path, cfg) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ignored(p string, cfg FilterConfig) bool {
	if hasIgnoredExtension(p, cfg.IgnoreExtensions) {
		return true
	}
	for _, pref := range cfg.IgnorePaths {
		pref = strings.TrimSpace(pref)
		if pref != "" && strings.Contains(p, pref) {
			return true
		}
	}
	for _, seg := range strings.Split(filepath.ToSlash(filepath.Dir(p)), "/") {
		if ignoredDir(seg, cfg.IgnoreDirs) {
			return true
		}
	}
	return false
}

func hasIgnoredExtension(p string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(strings.TrimSpace(e)) == ext {
			return true
		}
	}
	return false
}

func ignoredDir(name string, dirs []string) bool {
	for _, d := range dirs {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return true
		}
	}
	return false
}
