// Package graph defines the knowledge-store collaborator that ingests
// committed session content. The store derives entities and relationships
// from the complete content of an artifact, so replacement is always
// whole-artifact: delete the old one, index the new one.
package graph

import "context"

// Store is the knowledge-store surface the commit pipeline depends on.
type Store interface {
	// Index ingests canonical content and returns the artifact id.
	Index(ctx context.Context, content string) (string, error)
	// Delete removes a previously indexed artifact.
	Delete(ctx context.Context, artifactID string) error
}
