package queue

const TypeDocumentIngest = "document:ingest"

// DocumentIngestPayload drives classification and native text extraction for
// a freshly uploaded document. TaskID correlates log lines across processes.
type DocumentIngestPayload struct {
	DocumentID int64  `json:"document_id"`
	TaskID     string `json:"task_id"`
}
