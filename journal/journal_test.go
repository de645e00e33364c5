package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJournal_AppendsOneLinePerDecision(t *testing.T) {
	dir := t.TempDir()
	j, err := NewFileJournal(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Append(Decision{
			Timestamp: time.Now().UTC(),
			CID:       "cid-" + string(rune('a'+i)),
			Symbol:    "BTCUSDT",
			FinalSide: "HOLD",
			FinalSize: "0",
		}))
	}
	require.NoError(t, j.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var d Decision
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		assert.Equal(t, "BTCUSDT", d.Symbol)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestOpen_FallsBackToNullJournal(t *testing.T) {
	// A file where the directory should be makes the journal unusable.
	bad := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0644))

	j := Open(bad)
	assert.IsType(t, NullJournal{}, j)
	assert.NoError(t, j.Append(Decision{Symbol: "BTCUSDT"}))
	assert.NoError(t, j.Close())
}
