package models

// Photo represents evidence captured for a ticket. Blob holds the raw
// image bytes until the upload is confirmed; SyncedURL is the server-side
// location returned by the upload endpoint.
type Photo struct {
	ID         UUID   `json:"id"`
	TicketID   string `json:"ticketId"`
	Type       string `json:"type"` // vehicle, scene, document
	Blob       []byte `json:"blob,omitempty"`
	CapturedAt string `json:"capturedAt"`
	IsSynced   bool   `json:"isSynced"`
	SyncedAt   string `json:"syncedAt,omitempty"`
	SyncedURL  string `json:"syncedUrl,omitempty"`
}

// TableName returns the collection name for Photo.
func (Photo) TableName() string {
	return CollectionPhotos
}
