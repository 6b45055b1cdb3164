package usecase_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func records(locals ...string) []model.ResourceRecord {
	var recs []model.ResourceRecord
	for _, l := range locals {
		recs = append(recs, model.ResourceRecord{Remote: model.RemotePath(l), Local: model.LocalPath(l)})
	}
	return recs
}

// existingDirs lists every directory below root, relative and slash separated
func existingDirs(t *testing.T, root string) []string {
	t.Helper()
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			dirs = append(dirs, filepath.ToSlash(rel))
		}
		return nil
	})
	gt.NoError(t, err)
	sort.Strings(dirs)
	return dirs
}

func TestLayoutDirs(t *testing.T) {
	dirs := usecase.LayoutDirs(records("a/b.txt", "a/cd.txt", "e.txt", "x/y/z/f.bin", "x/g"))
	gt.Equal(t, dirs, []string{"a", "x", "x/y", "x/y/z"})

	gt.Equal(t, len(usecase.LayoutDirs(records("top.txt"))), 0)
}

func TestBuildLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")

	// stale content from a previous run
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "stale", "dir"), 0o755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "stale", "old.txt"), []byte("old"), 0o644))

	recs := records("a/b.txt", "a/cd.txt", "e.txt", "x/y/z/f.bin")
	created, err := usecase.BuildLayout(context.Background(), root, recs)
	gt.NoError(t, err)

	want := []string{"a", "x", "x/y", "x/y/z"}
	gt.Equal(t, created, want)
	gt.Equal(t, existingDirs(t, root), want)

	_, err = os.Stat(filepath.Join(root, "stale"))
	gt.True(t, os.IsNotExist(err))
}

func TestBuildLayout_NoRecords(t *testing.T) {
	root := filepath.Join(t.TempDir(), "empty")
	created, err := usecase.BuildLayout(context.Background(), root, nil)
	gt.NoError(t, err)
	gt.Equal(t, len(created), 0)

	info, err := os.Stat(root)
	gt.NoError(t, err)
	gt.True(t, info.IsDir())
}

func TestBuildLayout_Idempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	recs := records("a/b/c.txt")

	_, err := usecase.BuildLayout(context.Background(), root, recs)
	gt.NoError(t, err)
	_, err = usecase.BuildLayout(context.Background(), root, recs)
	gt.NoError(t, err)
	gt.Equal(t, existingDirs(t, root), []string{"a", "a/b"})
}

func TestBuildLayout_RejectsDangerousRoots(t *testing.T) {
	for _, root := range []string{"", "  ", "/"} {
		_, err := usecase.BuildLayout(context.Background(), root, nil)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, types.ErrTagConfiguration))
	}
}

func TestBuildLayout_RejectsDirsOutsideRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "mirror")

	_, err := usecase.BuildLayout(context.Background(), root, records("../outside/f.txt"))
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagPermanent))

	_, err = os.Stat(filepath.Join(base, "outside"))
	gt.True(t, os.IsNotExist(err))
}
