package platform

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ytget/clipqueue/internal/model"
)

// Placement actions reported to the caller
const (
	ActionOverwrote  = "overwrote"
	ActionCreatedNew = "created new"
	ActionSkipped    = "skipped"
)

// DefaultExtension is used when a file name has no usable extension
const DefaultExtension = "bin"

// Placement describes where a file ended up
type Placement struct {
	// Path is empty when the file was skipped
	Path   string
	Action string
}

// SplitName splits a file name at the last dot. A name with an empty stem or
// extension keeps the whole name as stem and gets DefaultExtension.
func SplitName(name string) (stem, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return name, DefaultExtension
	}
	return name[:idx], name[idx+1:]
}

// PlaceFile moves src into destDir under name, resolving collisions with
// the given policy. The existence check and the move are not atomic: two
// concurrent placements of the same name may race.
func PlaceFile(src, destDir, name string, policy model.DuplicatePolicy) (Placement, error) {
	stem, ext := SplitName(name)
	target := filepath.Join(destDir, stem+"."+ext)

	if err := CreateDirectoryIfNotExists(destDir); err != nil {
		return Placement{}, fmt.Errorf("%w: failed to create %s: %v", model.ErrPlacement, destDir, err)
	}

	switch policy {
	case model.DuplicateOverwrite:
		existed := fileExists(target)
		if existed {
			if err := os.Remove(target); err != nil {
				return Placement{}, fmt.Errorf("%w: failed to remove %s: %v", model.ErrPlacement, target, err)
			}
		}
		if err := moveFile(src, target); err != nil {
			return Placement{}, err
		}
		action := ActionCreatedNew
		if existed {
			action = ActionOverwrote
		}
		return Placement{Path: target, Action: action}, nil

	case model.DuplicateDoNothing:
		if fileExists(target) {
			_ = os.Remove(src)
			return Placement{Action: ActionSkipped}, nil
		}
		if err := moveFile(src, target); err != nil {
			return Placement{}, err
		}
		return Placement{Path: target, Action: ActionCreatedNew}, nil

	default:
		for n := 1; fileExists(target); n++ {
			target = filepath.Join(destDir, fmt.Sprintf("%s (%d).%s", stem, n, ext))
		}
		if err := moveFile(src, target); err != nil {
			return Placement{}, err
		}
		return Placement{Path: target, Action: ActionCreatedNew}, nil
	}
}

// PlaceTree places every regular file found under tmpDir into destDir.
// Failures for individual files are reported through notify and skipped.
func PlaceTree(tmpDir, destDir string, policy model.DuplicatePolicy, notify func(string)) []string {
	if notify == nil {
		notify = func(string) {}
	}
	var placed []string
	_ = filepath.WalkDir(tmpDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		p, err := PlaceFile(path, destDir, name, policy)
		switch {
		case err != nil:
			notify(fmt.Sprintf("Failed to move %s → %s: %v", path, filepath.Join(destDir, name), err))
		case p.Path == "":
			notify(fmt.Sprintf("Skipped (exists): %s", filepath.Join(destDir, name)))
		default:
			notify(fmt.Sprintf("%s: %s", capitalize(p.Action), p.Path))
			placed = append(placed, p.Path)
		}
		return nil
	})
	return placed
}

// moveFile renames src to dst, falling back to copy and remove when the
// rename crosses devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("%w: failed to copy %s: %v", model.ErrPlacement, src, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %v", model.ErrPlacement, src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
