package graph

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExecStore bridges to an external knowledge store through shell commands.
// The index command receives content on stdin and must print the artifact id
// on stdout; the delete command receives the artifact id in MEMOIR_ARTIFACT_ID.
type ExecStore struct {
	IndexCmd  string
	DeleteCmd string
}

// NewExecStore returns a Store backed by the given shell commands.
func NewExecStore(indexCmd, deleteCmd string) (*ExecStore, error) {
	if strings.TrimSpace(indexCmd) == "" {
		return nil, fmt.Errorf("graph index command is required")
	}
	if strings.TrimSpace(deleteCmd) == "" {
		return nil, fmt.Errorf("graph delete command is required")
	}
	return &ExecStore{IndexCmd: indexCmd, DeleteCmd: deleteCmd}, nil
}

// Index pipes the content to the index command and returns its stdout,
// trimmed, as the artifact id.
func (s *ExecStore) Index(ctx context.Context, content string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.IndexCmd)
	cmd.Stdin = strings.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("index command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", fmt.Errorf("index command returned no artifact id")
	}
	return id, nil
}

// Delete invokes the delete command with the artifact id in its environment.
func (s *ExecStore) Delete(ctx context.Context, artifactID string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.DeleteCmd)
	cmd.Env = append(os.Environ(), "MEMOIR_ARTIFACT_ID="+artifactID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("delete command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
