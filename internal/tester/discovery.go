package tester

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/programme-lv/grader/internal/environment"
)

var (
	ErrRoleMissing   = errors.New("no file for role")
	ErrRoleAmbiguous = errors.New("more than one file for role")
)

// locate finds the single file playing role key. An explicit path,
// relative to dir, takes precedence over the key tags of placed files.
func locate(placed []environment.Placed, dir, explicit, key string) (string, error) {
	if explicit != "" {
		path := filepath.Join(dir, explicit)
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s path %q leaves its directory", key, explicit)
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return "", fmt.Errorf("%w %q: %s not found", ErrRoleMissing, key, explicit)
		}
		return path, nil
	}

	var found []string
	for _, p := range placed {
		if p.File.Key == key {
			found = append(found, p.Path)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w %q", ErrRoleMissing, key)
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, f := range found {
			names[i] = filepath.Base(f)
		}
		return "", fmt.Errorf("%w %q: %s", ErrRoleAmbiguous, key, strings.Join(names, ", "))
	}
}
