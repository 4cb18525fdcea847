// Package dataset discovers patient directories under a data root.
//
// The root holds one directory per data type (e.g. STATIC, ARC). A data type
// directory contains either a single patient, several patients, or an
// "education" / "non-education" split of patients by training status.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"respiration-qa/internal/fieldlog"
)

const (
	trainedDir   = "education"
	untrainedDir = "non-education"
)

// ErrMissingSource is returned when the root or a required sub-directory is
// absent.
var ErrMissingSource = fieldlog.ErrMissingSource

// Group is a named set of patient directories.
type Group struct {
	DataType string
	Patients []string
}

// List walks root and returns the patient groups sorted by data type, each
// with patients sorted by directory name.
func List(root string) ([]Group, error) {
	types, err := subdirs(root)
	if err != nil {
		return nil, err
	}

	var groups []Group
	for _, name := range types {
		typeDir := filepath.Join(root, name)
		patients, err := subdirs(typeDir)
		if err != nil {
			return nil, err
		}

		if len(patients) == 1 || !slices.ContainsFunc(patients, isTrainingSplit) {
			groups = append(groups, Group{DataType: name, Patients: joinAll(typeDir, patients)})
			continue
		}

		trained, err := subdirs(filepath.Join(typeDir, trainedDir))
		if err != nil {
			return nil, err
		}
		untrained, err := subdirs(filepath.Join(typeDir, untrainedDir))
		if err != nil {
			return nil, err
		}
		groups = append(groups,
			Group{DataType: name + "_trained", Patients: joinAll(filepath.Join(typeDir, trainedDir), trained)},
			Group{DataType: name + "_untrained", Patients: joinAll(filepath.Join(typeDir, untrainedDir), untrained)},
		)
	}
	return groups, nil
}

// PatientCount sums the patients of all groups.
func PatientCount(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Patients)
	}
	return n
}

func isTrainingSplit(name string) bool {
	return strings.Contains(name, trainedDir)
}

func joinAll(dir string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, dir)
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}
