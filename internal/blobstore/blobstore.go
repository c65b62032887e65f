// Package blobstore persists downloaded attachments.
package blobstore

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/italolelis/attachment_transfer/internal/transfer"
)

var (
	// ErrNotFound is returned when no blob is stored for an attachment.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidPath is returned when an attachment identity cannot be used as a path.
	ErrInvalidPath = errors.New("invalid attachment path")
)

// segments validates the attachment identity for use as path components.
func segments(a transfer.Attachment) ([]string, error) {
	parts := []string{a.Bucket, a.Object, a.Attribute}

	for _, p := range parts {
		if p == "" || !filepath.IsLocal(p) || filepath.Base(p) != p {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidPath, p)
		}
	}

	return parts, nil
}
