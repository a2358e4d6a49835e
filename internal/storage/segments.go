package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// SegFileName returns segment file name:
//   - seg 0: base
//   - seg N>0: base.N
func SegFileName(base string, segNo int32) string {
	if segNo <= 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, segNo)
}

// listSegments returns the sorted segment numbers of base found in dir.
// A missing dir yields no segments.
func listSegments(fs afero.Fs, dir, base string) ([]int32, error) {
	ents, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var segs []int32
	prefix := base + "."

	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == base {
			segs = append(segs, 0)
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		suf := strings.TrimPrefix(name, prefix)
		n64, err := strconv.ParseInt(suf, 10, 32)
		if err != nil || n64 <= 0 {
			continue
		}
		segs = append(segs, int32(n64))
	}

	slices.Sort(segs)
	return segs, nil
}

// removeAllSegments deletes every segment of base found in dir.
func removeAllSegments(fs afero.Fs, dir, base string) error {
	segs, err := listSegments(fs, dir, base)
	if err != nil {
		return err
	}
	for _, segNo := range segs {
		path := filepath.Join(dir, SegFileName(base, segNo))
		if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
