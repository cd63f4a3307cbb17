package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"photodelta/logging"
	"photodelta/types"
)

// Scan walks a collection root and returns one ImageRecord per supported
// image file, ordered by path with sequential IDs. A missing or unreadable
// root is a run-level failure; individual unreadable files are skipped and
// logged.
func Scan(root string) ([]types.ImageRecord, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access collection root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("collection root %s is not a directory", root)
	}

	var records []types.ImageRecord
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("cannot read collection root %s: %w", root, err)
			}
			logging.Warnf("skipping inaccessible path %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !IsImageFile(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			logging.Warnf("cannot stat %s: %v", path, err)
			return nil
		}
		records = append(records, types.ImageRecord{
			Path:      path,
			Ext:       strings.ToLower(filepath.Ext(path)),
			Size:      fi.Size(),
			ModTime:   fi.ModTime(),
			Signature: ContentSignature(fi),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Path order fixes the ID assignment so runs are reproducible
	// regardless of directory iteration order.
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	for i := range records {
		records[i].ID = i
	}

	logging.Debugf("scanned %s: %d image files", root, len(records))
	return records, nil
}

// ContentSignature derives the cheap staleness signature for a file. A
// cached fingerprint is valid only while size and mtime are unchanged.
func ContentSignature(info fs.FileInfo) string {
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
}
