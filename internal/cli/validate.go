package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxPathLength mirrors the Linux PATH_MAX limit applied to user-supplied
// paths before they are stored in the state database.
const maxPathLength = 4096

// abspath expands ~ and resolves path to an absolute path.
func abspath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return abs, nil
}

// validateFoldersExist resolves each folder to an absolute path and checks
// it is an existing directory.
func validateFoldersExist(folders []string) ([]string, error) {
	resolved := make([]string, 0, len(folders))
	for _, folder := range folders {
		abs, err := abspath(folder)
		if err != nil {
			return nil, err
		}
		if len(abs) > maxPathLength {
			return nil, fmt.Errorf("folder path is too long, max supported is %d", maxPathLength)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("the folder %q doesn't exist", folder)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// validateFileExists resolves path and checks it is an existing regular file.
func validateFileExists(path string) (string, error) {
	abs, err := abspath(path)
	if err != nil {
		return "", err
	}
	if len(abs) > maxPathLength {
		return "", fmt.Errorf("file path is too long, max supported is %d", maxPathLength)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("the file %q doesn't exist", path)
	}
	return abs, nil
}

// validateOutputTemplate resolves the output template and rejects names the
// filesystem would refuse.
func validateOutputTemplate(path string) (string, error) {
	abs, err := abspath(path)
	if err != nil {
		return "", err
	}
	if len(abs) > maxPathLength {
		return "", fmt.Errorf("filename path is too long, max supported is %d", maxPathLength)
	}
	base := filepath.Base(abs)
	if base == "." || base == string(filepath.Separator) || strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("filename path %q is not valid", path)
	}
	return abs, nil
}

// validateCompression checks the --compression value.
func validateCompression(compression string, allowed []string) error {
	if compression == "" {
		return nil
	}
	for _, c := range allowed {
		if compression == c {
			return nil
		}
	}
	return fmt.Errorf("unsupported compression %q, expected one of %s",
		compression, strings.Join(allowed, ", "))
}
