package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/pagefab/dimension"
)

// DirFragments serves content fragments from a directory tree:
//
//	<root>/_default/<kind>.html          shared fallbacks
//	<root>/<combination-dir>/<kind>.html per-combination overrides
//
// The combination directory name is the combination key with "=" replaced
// by "-" and "|" by "__" (e.g. "material-steel__capacity-10").
type DirFragments struct {
	Root string
}

var keyDirReplacer = strings.NewReplacer("=", "-", "|", "__")

// KeyDir returns the directory name used for a combination key.
func KeyDir(key string) string { return keyDirReplacer.Replace(key) }

// Fragments loads the fragment set for one combination. Fallbacks apply
// per kind; a combination with no files at all, shared or specific, is an
// error rather than an empty render.
func (d DirFragments) Fragments(ctx context.Context, combo *dimension.Combination) (Fragments, error) {
	out := Fragments{}
	if err := d.loadDir(filepath.Join(d.Root, "_default"), out); err != nil {
		return nil, err
	}
	if err := d.loadDir(filepath.Join(d.Root, KeyDir(combo.Key())), out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("compose: no fragments under %s for %s", d.Root, combo.Key())
	}
	return out, nil
}

func (d DirFragments) loadDir(dir string, out Fragments) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("compose: read fragment dir %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("compose: read fragment %s: %w", name, err)
		}
		out[Kind(strings.TrimSuffix(name, ".html"))] = string(data)
	}
	return nil
}
