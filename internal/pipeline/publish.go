package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// preexistingPrefix names a real directory found at the output path on the
// first published run. It is moved into the revisions directory once and
// never pruned.
const preexistingPrefix = "preexisting-"

// publishedMarker is created in a revision just before the output symlink is
// swapped onto it. Only marked revisions are pruned, so the revision of a
// run still writing is never removed under it.
const publishedMarker = ".published"

// revisionsDir returns <parent>/.<base>.revisions for an output path.
func revisionsDir(output string) string {
	return filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".revisions")
}

// newRevision creates the revision directory for a run.
func newRevision(output, runID string) (string, error) {
	dir := filepath.Join(revisionsDir(output), runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create revision: %w", err)
	}
	return dir, nil
}

// publish points output at rev by renaming a fresh symlink over it. Readers
// see either the previous revision or the new one, never a mix.
func publish(output, rev, runID string) error {
	if fi, err := os.Stat(rev); err != nil {
		return fmt.Errorf("publish: revision: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("publish: revision %s is not a directory", rev)
	}
	if err := os.WriteFile(filepath.Join(rev, publishedMarker), []byte(runID+"\n"), 0o644); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	fi, err := os.Lstat(output)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("publish: %w", err)
	case fi.Mode()&os.ModeSymlink != 0:
	case fi.IsDir():
		aside := filepath.Join(revisionsDir(output), preexistingPrefix+runID)
		if err := os.Rename(output, aside); err != nil {
			return fmt.Errorf("publish: move existing directory aside: %w", err)
		}
	default:
		return fmt.Errorf("publish: %s exists and is not a directory", output)
	}

	target, err := filepath.Rel(filepath.Dir(output), rev)
	if err != nil {
		target = rev
	}
	tmp := filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".link-"+runID)
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// prune removes published revisions older than current beyond the newest
// keep, current included. Run IDs are UUIDv7, so name order is creation
// order. Unpublished revisions belong to runs still writing (or to crashed
// runs) and are left alone, as is anything newer than current.
func prune(output, current string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	dir := revisionsDir(output)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	cur := filepath.Base(current)
	var older []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, preexistingPrefix) || name >= cur {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name, publishedMarker)); err != nil {
			continue
		}
		older = append(older, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(older)))
	if len(older) <= keep-1 {
		return nil, nil
	}

	var removed []string
	for _, name := range older[keep-1:] {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("prune %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
