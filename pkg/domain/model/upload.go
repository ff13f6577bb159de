package model

import "time"

// UploadTicket is a pre-signed URL a client uses to PUT a file directly into object storage
type UploadTicket struct {
	URL         string
	Method      string
	Object      string
	ContentType string
	ExpiresAt   time.Time
}
