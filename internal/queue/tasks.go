package queue

const (
	TypeFileProcess = "file:process"
	TypeSchemaReset = "schema:reset"
)

type FileProcessPayload struct {
	TenantID string `json:"tenant_id"`
	FileID   string `json:"file_id"`
}

type SchemaResetPayload struct {
	TenantID string `json:"tenant_id"`
}
