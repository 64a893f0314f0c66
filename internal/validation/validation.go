package validation

import (
	"path"
	"regexp"
	"strings"

	"botvault/internal/errors"
)

// MaxPathLength bounds a normalized file path in bytes.
const MaxPathLength = 1024

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CleanPath normalizes a tenant-relative file path. It rejects anything
// that would resolve outside the tenant root.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.InvalidPath("path is required", p)
	}
	if strings.ContainsAny(p, "\x00\\") {
		return "", errors.InvalidPath("path contains forbidden characters", p)
	}
	if strings.HasPrefix(p, "/") {
		return "", errors.InvalidPath("path must be relative", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", errors.InvalidPath("path escapes the tenant root", p)
		}
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", errors.InvalidPath("path is required", p)
	}
	if len(cleaned) > MaxPathLength {
		return "", errors.InvalidPath("path too long", p[:64])
	}
	return cleaned, nil
}

// CleanPrefix normalizes a list prefix. The empty prefix selects everything.
func CleanPrefix(prefix string) (string, error) {
	if prefix == "" {
		return "", nil
	}
	dir := strings.HasSuffix(prefix, "/")
	cleaned, err := CleanPath(prefix)
	if err != nil {
		return "", err
	}
	if dir {
		cleaned += "/"
	}
	return cleaned, nil
}

// TenantID checks that id is usable as a tenant identifier.
func TenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return errors.ValidationError("invalid tenant id", map[string]string{"tenant": id})
	}
	return nil
}

// FileSize rejects content larger than limit.
func FileSize(p string, size, limit int64) error {
	if limit > 0 && size > limit {
		return errors.InvalidPath("file exceeds the size limit", p)
	}
	return nil
}
