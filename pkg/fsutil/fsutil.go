// Package fsutil holds file ownership helpers for files shared with other
// containers, such as the config consumed by Traefik's file provider.
package fsutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Owner is a numeric UID/GID pair.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID". An empty string yields nil, meaning the
// process's own identity is kept.
func ParseOwner(s string) (*Owner, error) {
	if s == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", s)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil || uid < 0 {
		return nil, fmt.Errorf("invalid UID %q", uidStr)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil || gid < 0 {
		return nil, fmt.Errorf("invalid GID %q", gidStr)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// Chown applies owner to path. A nil owner is a no-op.
func (o *Owner) Chown(path string) error {
	if o == nil {
		return nil
	}

	if err := os.Chown(path, o.UID, o.GID); err != nil {
		return fmt.Errorf("chown %s to %d:%d: %w", path, o.UID, o.GID, err)
	}

	return nil
}
