// Package workspace owns the on-disk layout of one experiment run.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Directory names inside a run directory. External result-inspection tooling depends on them.
const (
	ResultsDirName       = "app_results"
	OptimizerLogsDirName = "optimizer_logs"
	ProbeLogsDirName     = "PIs_logs"
)

const dirPerm = 0o755

// Workspace is the directory tree of a single run:
//
//	<root>/<experimentID>/<unix seconds>/{app_results,optimizer_logs,PIs_logs}
type Workspace struct {
	Dir           string
	ResultsDir    string
	OptimizerLogs string
	ProbeLogs     string
}

// New computes the layout for a run started at start. Nothing is created on disk.
func New(root, experimentID string, start time.Time) (*Workspace, error) {
	if experimentID == "" {
		return nil, errors.New("experiment id must not be empty")
	}
	if filepath.Base(experimentID) != experimentID || experimentID == "." || experimentID == ".." {
		return nil, errors.Errorf("experiment id %q must be a single path element", experimentID)
	}
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, experimentID, strconv.FormatInt(start.Unix(), 10))
	return &Workspace{
		Dir:           dir,
		ResultsDir:    filepath.Join(dir, ResultsDirName),
		OptimizerLogs: filepath.Join(dir, OptimizerLogsDirName),
		ProbeLogs:     filepath.Join(dir, ProbeLogsDirName),
	}, nil
}

func (w *Workspace) dirs() []string {
	return []string{w.ResultsDir, w.OptimizerLogs, w.ProbeLogs}
}

// Create makes the three run directories. Existing directories are left untouched. If any of
// them cannot be created, whatever this call created is removed again before returning.
func (w *Workspace) Create() (err error) {
	var created []string
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			_ = os.Remove(created[i])
		}
	}()

	for _, dir := range w.dirs() {
		missing, err := missingAncestors(dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return errors.Wrapf(err, "cannot create workspace directory %s", dir)
		}
		created = append(created, missing...)
	}
	return nil
}

// missingAncestors lists dir and its parents that do not exist yet, outermost first.
func missingAncestors(dir string) ([]string, error) {
	var missing []string
	for p := filepath.Clean(dir); ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		switch {
		case err == nil && !info.IsDir():
			return nil, errors.Errorf("%s exists and is not a directory", p)
		case err == nil:
			return missing, nil
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "cannot stat %s", p)
		}
		missing = append([]string{p}, missing...)
		if parent := filepath.Dir(p); parent == p {
			return missing, nil
		}
	}
}

// Exists reports whether all three run directories are present.
func (w *Workspace) Exists() bool {
	for _, dir := range w.dirs() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// AppendJSON appends v as a single JSON line to dir/name.
func AppendJSON(dir, name string, v interface{}) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "cannot marshal log record")
	}
	f, err := os.OpenFile( // #nosec G304
		filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", name)
	}
	if _, err = f.Write(append(bs, '\n')); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "cannot append to %s", name)
	}
	return f.Close()
}
