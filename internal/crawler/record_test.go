package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessors(t *testing.T) {
	t.Parallel()

	rec, err := decodeRecord([]byte(`{"id": 9007199254740993, "actor": {"login": "alice", "site_admin": false},
		"payload": {"commits": [{"sha": "a"}], "forced": true}}`))
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.String("actor", "login"))
	assert.Empty(t, rec.String("actor", "missing"))
	assert.Empty(t, rec.String("payload", "forced"))
	assert.True(t, rec.Bool("payload", "forced"))
	commits, ok := rec.Slice("payload", "commits")
	require.True(t, ok)
	assert.Len(t, commits, 1)
	_, ok = rec.Object("payload", "commits")
	assert.False(t, ok)

	out, err := json.Marshal(rec["id"])
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", string(out))
}

func TestRecordWithout(t *testing.T) {
	t.Parallel()

	rec := Record{"id": "1", "payload": "big"}
	trimmed := rec.Without("payload")
	assert.Equal(t, Record{"id": "1"}, trimmed)
	assert.Contains(t, rec, "payload")
}

func TestDecodeRecordRejectsNonObjects(t *testing.T) {
	t.Parallel()

	_, err := decodeRecord([]byte(`null`))
	assert.Error(t, err)
	_, err = decodeRecord([]byte(`[1]`))
	assert.Error(t, err)
	_, err = decodeRecords([]byte(`{"a": 1}`))
	assert.Error(t, err)
}
