package vectorstore

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const titleSeparator = "|"

// TableName derives the tenant's vector table identifier. Deterministic
// in the tenant id, so two tenants sharing one physical database can
// never collide.
func TableName(tenantID uuid.UUID) string {
	return "doc_embed_" + strings.ReplaceAll(tenantID.String(), "-", "")[:12]
}

// TitlePrefix identifies every row belonging to one uploaded file.
func TitlePrefix(fileName string, fileID uuid.UUID) string {
	return fileName + titleSeparator + fileID.String() + titleSeparator
}

// SegmentTitle names one segment row; position is 1-based stored order.
func SegmentTitle(prefix string, position int) string {
	return prefix + strconv.Itoa(position)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLike neutralizes LIKE wildcards in a literal prefix; file names
// may legitimately contain % or _.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
