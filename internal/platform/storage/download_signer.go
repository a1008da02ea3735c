package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// DownloadLinkSigner issues signed GET URLs for purchased files in the files
// bucket. Access decisions happen before this layer; the signer only turns a
// vetted object path into a time-limited location.
type DownloadLinkSigner struct {
	client *Client
	bucket string
}

// NewDownloadLinkSigner constructs a signer bound to a single bucket.
func NewDownloadLinkSigner(client *Client, bucket string) (*DownloadLinkSigner, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &DownloadLinkSigner{client: client, bucket: bucket}, nil
}

// SignedDownloadURL returns a signed GET URL for the object, served as an
// attachment named after the object's final path segment.
func (s *DownloadLinkSigner) SignedDownloadURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: download link signer not initialised")
	}
	objectPath, err := ValidateObjectPath(objectPath)
	if err != nil {
		return "", err
	}

	disposition := fmt.Sprintf("attachment; filename=%q", path.Base(objectPath))
	result, err := s.client.SignedDownloadURL(ctx, s.bucket, objectPath, DownloadOptions{
		Method:       httpMethodGet,
		ExpiresIn:    ttl,
		Disposition:  disposition,
		CacheControl: "private, no-store",
	})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}
