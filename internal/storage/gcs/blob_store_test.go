package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newTestStore(writer *fakeWriter, gotType *string) *BlobStore {
	return &BlobStore{
		bucket: "archive",
		newWriter: func(_ context.Context, _ string, contentType string) io.WriteCloser {
			*gotType = contentType
			return writer
		},
	}
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	var contentType string
	store := newTestStore(writer, &contentType)

	uri, err := store.PutObject(context.Background(), "feeds/alice/abc.json", "", bytes.NewReader([]byte("[]")))
	require.NoError(t, err)
	assert.Equal(t, "gs://archive/feeds/alice/abc.json", uri)
	assert.Equal(t, "[]", writer.buf.String())
	assert.Equal(t, "application/json", contentType)
	assert.True(t, writer.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var contentType string
	_, err := newTestStore(&fakeWriter{}, &contentType).PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	assert.Error(t, err)

	failing := &fakeWriter{writeErr: errors.New("quota")}
	_, err = newTestStore(failing, &contentType).PutObject(context.Background(), "p", "", bytes.NewReader([]byte("x")))
	assert.ErrorContains(t, err, "copy object")
	assert.True(t, failing.closed)

	unclosable := &fakeWriter{closeErr: errors.New("finalize")}
	_, err = newTestStore(unclosable, &contentType).PutObject(context.Background(), "p", "", bytes.NewReader([]byte("x")))
	assert.ErrorContains(t, err, "close writer")
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)
	assert.NoError(t, (&BlobStore{}).Close())
}
