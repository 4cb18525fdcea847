package pipeline

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

type fractionDir struct {
	id   string
	num  int
	path string
}

// CompareFractionIDs orders fraction identifiers by integer value, so "2"
// sorts before "10". Equal values fall back to the raw name.
func CompareFractionIDs(a, b string) (int, error) {
	na, err := fractionNumber(a)
	if err != nil {
		return 0, err
	}
	nb, err := fractionNumber(b)
	if err != nil {
		return 0, err
	}
	return compareFractions(fractionDir{id: a, num: na}, fractionDir{id: b, num: nb}), nil
}

func compareFractions(a, b fractionDir) int {
	if c := cmp.Compare(a.num, b.num); c != 0 {
		return c
	}
	return strings.Compare(a.id, b.id)
}

// CompareFieldNames orders field files by name, byte-wise.
func CompareFieldNames(a, b string) int {
	return strings.Compare(a, b)
}

func fractionNumber(name string) (int, error) {
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFractionID, name)
	}
	return n, nil
}

// listFractions returns the sub-directories of a patient directory ordered by
// CompareFractionIDs.
func listFractions(patientDir string) ([]fractionDir, error) {
	dirs, err := listEntries(patientDir, true)
	if err != nil {
		return nil, err
	}

	fractions := make([]fractionDir, 0, len(dirs))
	for _, name := range dirs {
		num, err := fractionNumber(name)
		if err != nil {
			return nil, err
		}
		fractions = append(fractions, fractionDir{id: name, num: num, path: filepath.Join(patientDir, name)})
	}
	slices.SortFunc(fractions, compareFractions)
	return fractions, nil
}

// listFields returns the regular files of a fraction directory ordered by
// CompareFieldNames.
func listFields(dir string) ([]string, error) {
	files, err := listEntries(dir, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, CompareFieldNames)
	return files, nil
}

// listEntries returns the names of directories (wantDir) or regular files in
// dir. Symlinks are followed.
func listEntries(dir string, wantDir bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, dir)
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			// Dangling symlink.
			continue
		}
		if wantDir && info.IsDir() {
			names = append(names, entry.Name())
		}
		if !wantDir && info.Mode().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
