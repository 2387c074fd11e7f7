package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const maxKeyAttempts = 10000

var ErrNoFreeKey = errors.New("no free object key")

func FollowUpDir(leadID uint) string {
	return fmt.Sprintf("lead_followups/lead_%d", leadID)
}

// DocumentDir is the directory of a folder's documents; a nil folder is the
// organisation root.
func DocumentDir(orgID uint, folderID *uint) string {
	if folderID == nil {
		return fmt.Sprintf("documents/%d/folder_root", orgID)
	}
	return fmt.Sprintf("documents/%d/folder_%d", orgID, *folderID)
}

func WorkReportDir(orgID uint) string {
	return fmt.Sprintf("workreports/%d", orgID)
}

// CleanName reduces an uploaded file name to its base name.
func CleanName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// UniqueKey returns dir/name, or dir/stem_N.ext with the smallest N >= 1
// when that key is taken.
func UniqueKey(ctx context.Context, store ObjectStore, dir, name string) (string, error) {
	name = CleanName(name)
	key := dir + "/" + name

	taken, err := store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !taken {
		return key, nil
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n <= maxKeyAttempts; n++ {
		key = fmt.Sprintf("%s/%s_%d%s", dir, stem, n, ext)
		taken, err := store.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w under %s for %s", ErrNoFreeKey, dir, name)
}
