// internal/security/permissions.go
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrUnsafePermissions reports a config or job path that other users could
// rewrite. A job decides which files get read and where masked copies land,
// so a writable job directory lets anyone redirect card data.
var ErrUnsafePermissions = errors.New("unsafe permissions")

const (
	// dirForbidden: no group write and nothing for others.
	dirForbidden fs.FileMode = 0027
	// fileForbidden: no write for others.
	fileForbidden fs.FileMode = 0002
)

// ValidateDirectoryPermissions accepts directories with mode 0700 or 0750
// (or stricter).
func ValidateDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking directory permissions: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return checkMode("directory", path, info.Mode().Perm(), dirForbidden)
}

// ValidateFilePermissions rejects world-writable files.
func ValidateFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}
	return checkMode("file", path, info.Mode().Perm(), fileForbidden)
}

func checkMode(kind, path string, mode, forbidden fs.FileMode) error {
	if bad := mode & forbidden; bad != 0 {
		return fmt.Errorf("%w: %s %s has mode %04o (clear %04o)", ErrUnsafePermissions, kind, path, mode, bad)
	}
	return nil
}
