package dcb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMissingFileIsZero(t *testing.T) {
	l := newLedger(t.TempDir())
	rec, err := l.read()
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.LastSequencePosition)
	assert.Equal(t, int64(0), rec.EventCount)
}

func TestLedgerCommitAndReadRoundTrip(t *testing.T) {
	l := newLedger(t.TempDir())
	require.NoError(t, l.commit(ledgerRecord{LastSequencePosition: 5, EventCount: 5}))

	rec, err := l.read()
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.LastSequencePosition)
	assert.Equal(t, int64(5), rec.EventCount)

	require.NoError(t, l.commit(ledgerRecord{LastSequencePosition: 8, EventCount: 8}))
	rec, err = l.read()
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.LastSequencePosition)
}

func TestLedgerCorruptFileIsDegradedNotFatal(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(dir)
	require.NoError(t, os.WriteFile(l.path, []byte("not json"), 0o644))

	rec, err := l.read()
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.LastSequencePosition)
}
