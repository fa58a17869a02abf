package batch

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// Workspace directory layout.
const (
	InputDir      = "input"
	OutputDir     = "output"
	ReferenceName = "REFERENCE"
)

// Workspace is a directory holding input/REFERENCE.<ext>, target images in input/ and
// the generated output/ and info file.
type Workspace struct {
	Root string
}

// InputPath returns the input directory.
func (w Workspace) InputPath() string { return filepath.Join(w.Root, InputDir) }

// OutputPath returns the output directory.
func (w Workspace) OutputPath() string { return filepath.Join(w.Root, OutputDir) }

// Discover finds the reference and the targets of the workspace. includePatterns filter
// targets only. Targets are ordered numerically when their names are numbers, otherwise
// by name.
func (w Workspace) Discover(includePatterns []string) (string, []string, error) {
	input := w.InputPath()
	info, err := os.Stat(input)
	if err != nil {
		return "", nil, fmt.Errorf("workspace %s: %w", w.Root, err)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("workspace %s: %s is not a directory", w.Root, input)
	}

	files, err := discoverInDirectory(input, false, nil, nil)
	if err != nil {
		return "", nil, fmt.Errorf("workspace %s: %w", w.Root, err)
	}

	var reference string
	targets := make([]string, 0, len(files))
	for _, f := range files {
		if strings.EqualFold(TargetName(f), ReferenceName) {
			if reference != "" {
				return "", nil, fmt.Errorf("workspace %s: more than one reference (%s, %s)", w.Root, reference, f)
			}
			reference = f
			continue
		}
		if shouldIncludeFile(f, includePatterns, nil) {
			targets = append(targets, f)
		}
	}
	if reference == "" {
		return "", nil, fmt.Errorf("workspace %s: no %s image in %s", w.Root, ReferenceName, input)
	}
	SortTargets(targets)
	return reference, targets, nil
}

// TargetName is the file name without directory and extension.
func TargetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SortTargets orders paths numerically by name where both names are integers; numeric
// names come before other names, which sort lexically.
func SortTargets(paths []string) {
	slices.SortStableFunc(paths, func(a, b string) int {
		na, errA := strconv.Atoi(TargetName(a))
		nb, errB := strconv.Atoi(TargetName(b))
		switch {
		case errA == nil && errB == nil:
			return cmp.Compare(na, nb)
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			return cmp.Compare(TargetName(a), TargetName(b))
		}
	})
}

// discoverImageFiles expands files and directories into the supported images they hold.
func discoverImageFiles(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var imageFiles []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if info.IsDir() {
			files, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
			if err != nil {
				return nil, err
			}
			SortTargets(files)
			imageFiles = append(imageFiles, files...)
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			imageFiles = append(imageFiles, arg)
		}
	}
	if len(imageFiles) == 0 {
		return nil, errors.New("no image files found")
	}
	return imageFiles, nil
}

func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if utils.IsSupportedImage(path) && shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
		return nil
	}
	return files, filepath.WalkDir(dir, walkFn)
}

// shouldIncludeFile applies exclude patterns first; no include patterns means include all.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// SplitPatterns splits a comma separated pattern list.
func SplitPatterns(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
