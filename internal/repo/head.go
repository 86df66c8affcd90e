package repo

import (
	"os"
	"strings"

	apperrors "archgit/internal/errors"
)

const (
	refPrefix   = "ref: "
	headsPrefix = "refs/heads/"
)

// ReadHead returns the branch HEAD points at. A missing HEAD, or one that is
// not a symbolic ref, is reported as HeadCorrupt.
func (r *Repository) ReadHead() (string, error) {
	data, err := os.ReadFile(r.HeadPath())
	if err != nil {
		return "", apperrors.HeadCorrupt("reading HEAD", err)
	}

	return ParseHead(string(data))
}

// ParseHead extracts the branch name from HEAD contents of the form
// "ref: refs/heads/<branch>\n".
func ParseHead(content string) (string, error) {
	if !strings.HasPrefix(content, refPrefix) {
		return "", apperrors.HeadCorrupt("HEAD is not pointing to a branch", nil)
	}

	ref := strings.TrimSpace(strings.TrimPrefix(content, refPrefix))
	branch := strings.TrimPrefix(ref, headsPrefix)
	if branch == "" {
		return "", apperrors.HeadCorrupt("HEAD names an empty ref", nil)
	}
	return branch, nil
}
