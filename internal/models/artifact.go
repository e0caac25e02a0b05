package models

import "time"

// ArtifactState mirrors the processing state reported by the remote file API.
type ArtifactState string

const (
	ArtifactUnspecified ArtifactState = "STATE_UNSPECIFIED"
	ArtifactProcessing  ArtifactState = "PROCESSING"
	ArtifactActive      ArtifactState = "ACTIVE"
	ArtifactFailed      ArtifactState = "FAILED"
)

// Artifact references a document ingested by the remote service.
type Artifact struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	URI         string        `json:"uri"`
	MIMEType    string        `json:"mime_type"`
	State       ArtifactState `json:"state"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Processing reports whether the remote service is still working on the file.
func (a *Artifact) Processing() bool {
	return a != nil && a.State == ArtifactProcessing
}
