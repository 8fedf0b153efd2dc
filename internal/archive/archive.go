// Package archive writes raw events-feed bodies to a blob store, keyed by content.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
)

// DefaultPrefix is the object prefix used when none is configured.
const DefaultPrefix = "feeds"

// BlobStore persists binary artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Archiver stores feed bodies at <prefix>/<account>/<sha256>.json.
type Archiver struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// New returns an Archiver writing to store.
func New(store BlobStore, prefix string, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: prefix, logger: logger}, nil
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Key returns the object path a body for account is stored under.
func (a *Archiver) Key(account string, body []byte) string {
	return path.Join(a.prefix, account, Digest(body)+".json")
}

// Archive writes body and returns the URI reported by the blob store.
func (a *Archiver) Archive(ctx context.Context, account string, body []byte) (string, error) {
	if account == "" || strings.ContainsAny(account, `/\`) || account == "." || account == ".." {
		return "", fmt.Errorf("invalid account %q", account)
	}
	key := a.Key(account, body)
	uri, err := a.store.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	a.logger.Debug("feed archived", zap.String("account", account), zap.String("uri", uri), zap.Int("bytes", len(body)))
	return uri, nil
}
