package queue

import "github.com/hibiken/asynq"

// NewMux binds each task type to its worker. Both task types share one
// mux so a single worker process drains the whole queue.
func NewMux(fileProcess, schemaReset asynq.Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeFileProcess, fileProcess)
	mux.Handle(TypeSchemaReset, schemaReset)
	return mux
}
