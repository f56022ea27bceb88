/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/log"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.Warn("rules store is unavailable", log.Int("attempt", 2), log.String("store", "postgres"))
	rec.With(log.String("subject", "id:alice")).Info("request rejected")
	rec.WithLevel(log.LevelError).Warn("dropped")

	require.Len(t, rec.Entries(), 2)

	entry, found := rec.FindEntry("rules store is unavailable")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	field, found := entry.FindField("attempt")
	require.True(t, found)
	require.EqualValues(t, 2, field.Int)
	field, found = entry.FindField("store")
	require.True(t, found)
	require.Equal(t, "postgres", string(field.Bytes))
	_, found = entry.FindField("unknown")
	require.False(t, found)

	entry, found = rec.FindEntry("request rejected")
	require.True(t, found)
	field, found = entry.FindField("subject")
	require.True(t, found, "fields of the child logger should be recorded")
	require.Equal(t, "id:alice", string(field.Bytes))

	_, found = rec.FindEntry("dropped")
	require.False(t, found)

	rec.Reset()
	require.Empty(t, rec.Entries())
}
