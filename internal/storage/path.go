package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// NormalizeFilename strips directories and replaces characters that are
// unsafe in object keys.
func NormalizeFilename(name string) string {
	base := path.Base(name)
	safe := unsafeChars.ReplaceAllString(base, "_")
	if safe == "" || safe == "." || safe == ".." {
		return "file_" + uuid.New().String()
	}
	return safe
}

// ObjectPath groups blobs by tenant and upload day; the random element
// keeps same-named uploads distinct.
func ObjectPath(tenantID uuid.UUID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s_%s_%s",
		tenantID,
		time.Now().UTC().Format("20060102"),
		uuid.New().String()[:8],
		NormalizeFilename(fileName),
	)
}
