package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var errLibraryNotFound = errors.New("onnxruntime shared library not found")

// libraryNames lists the onnxruntime file names shipped for each OS, newest
// first.
func libraryNames(goos string) []string {
	switch goos {
	case "windows":
		return []string{"onnxruntime.dll"}
	case "darwin":
		return []string{"libonnxruntime.1.20.0.dylib", "libonnxruntime.dylib"}
	default:
		return []string{"libonnxruntime.so.1.20.0", "libonnxruntime.so"}
	}
}

// resolveLibrary returns the onnxruntime library to load. An explicit path
// must exist; otherwise lib/ next to the working directory and next to the
// executable are searched.
func resolveLibrary(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("ORT_LIB_PATH %s: %w", explicit, err)
		}
		return filepath.Abs(explicit)
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(wd, "lib"))
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "lib"))
	}
	return findLibrary(dirs, libraryNames(runtime.GOOS))
}

func findLibrary(dirs, names []string) (string, error) {
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w in %v", errLibraryNotFound, dirs)
}
