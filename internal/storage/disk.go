package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk size of the stores.
type Usage struct {
	Total  int64            `json:"total"`
	Stores map[string]int64 `json:"stores"`
}

// MeasureUsage sums the size of each named path. A path may be a file or a directory.
// Missing paths count as zero. A SQLite database also counts its -wal and -shm files.
func MeasureUsage(paths map[string]string) (*Usage, error) {
	u := &Usage{Stores: make(map[string]int64, len(paths))}
	for name, p := range paths {
		if p == "" {
			continue
		}
		var n int64
		for _, candidate := range []string{p, p + "-wal", p + "-shm"} {
			size, err := pathSize(candidate)
			if err != nil {
				return nil, err
			}
			n += size
		}
		u.Stores[name] = n
		u.Total += n
	}
	return u, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
