package report

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppend(t *testing.T) {
	dsn := os.Getenv("STEAM_SESSIONS_TEST_DSN")
	if dsn == "" {
		t.Skip("STEAM_SESSIONS_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history, err := OpenHistory(ctx, dsn)
	require.NoError(t, err)
	defer history.Close()

	runID := NewRunID()
	records := sampleTracker(t).Records()
	require.NoError(t, history.Append(ctx, runID, records))
	require.NoError(t, history.Append(ctx, runID, records))

	n, err := history.Count(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, len(records), n)
}
