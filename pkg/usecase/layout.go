package usecase

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// LayoutDirs returns every directory implied by the local paths of records, ancestors
// included, sorted so that parents precede their children
func LayoutDirs(records []model.ResourceRecord) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for dir := rec.Local.Dir(); dir != ""; dir = parentDir(dir) {
			if _, ok := set[dir]; ok {
				break
			}
			set[dir] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(set))
	for dir := range set {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func parentDir(dir string) string {
	p := path.Dir(dir)
	if p == "." || p == "/" {
		return ""
	}
	return p
}

// BuildLayout wipes root and recreates the directory skeleton for records. It returns the
// created directories relative to root. A failure after the wipe leaves a partial tree;
// the remedy is running the backup again.
func BuildLayout(ctx context.Context, root string, records []model.ResourceRecord) ([]string, error) {
	logger := ctxlog.From(ctx)

	if err := checkDestination(root); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(root); err != nil {
		return nil, goerr.Wrap(err, "failed to delete destination", goerr.V("root", root))
	}
	logger.Info("Deleted destination", "root", root)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create destination", goerr.V("root", root))
	}

	dirs := LayoutDirs(records)
	for _, dir := range dirs {
		full, err := localTarget(root, model.LocalPath(dir))
		if err != nil {
			return nil, err
		}
		// parents were created in an earlier iteration, so Mkdir suffices
		if err := os.Mkdir(full, 0o755); err != nil && !os.IsExist(err) {
			return nil, goerr.Wrap(err, "failed to create directory", goerr.V("dir", full))
		}
		logger.Debug("Created directory", "dir", dir)
	}

	logger.Info("Created directory tree", "root", root, "dirs", len(dirs))
	return dirs, nil
}

// localTarget joins p onto root and refuses any result that is not strictly below root
func localTarget(root string, p model.LocalPath) (string, error) {
	full := p.Join(root)
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", goerr.New("local path escapes destination",
			goerr.V("root", root),
			goerr.V("local", p),
			goerr.T(types.ErrTagPermanent))
	}
	return full, nil
}

// checkDestination rejects destinations whose removal would be catastrophic
func checkDestination(root string) error {
	if strings.TrimSpace(root) == "" {
		return goerr.New("destination is empty", goerr.T(types.ErrTagConfiguration))
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return goerr.Wrap(err, "invalid destination",
			goerr.V("root", root),
			goerr.T(types.ErrTagConfiguration))
	}
	if filepath.Dir(abs) == abs {
		return goerr.New("refusing to use a filesystem root as destination",
			goerr.V("root", abs),
			goerr.T(types.ErrTagConfiguration))
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == abs {
		return goerr.New("refusing to use the home directory as destination",
			goerr.V("root", abs),
			goerr.T(types.ErrTagConfiguration))
	}
	return nil
}
