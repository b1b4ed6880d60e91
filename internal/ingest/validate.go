package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrParse             = errors.New("could not parse document")
)

func ValidateExtension(fileName string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return fmt.Errorf("%w: file has no extension", ErrUnsupportedFormat)
	}
	if !slices.Contains(allowed, ext) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return nil
}

func ValidateSize(sizeBytes int64, maxMB int) error {
	if maxMB <= 0 {
		return nil
	}
	if sizeBytes > int64(maxMB)*1024*1024 {
		return fmt.Errorf("%w: limit is %d MB", ErrFileTooLarge, maxMB)
	}
	return nil
}
