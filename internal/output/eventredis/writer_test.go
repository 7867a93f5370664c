package eventredis

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoryhub/pkg/models"
)

func TestWriteEventsCapsList(t *testing.T) {
	mr := miniredis.RunT(t)
	w, err := NewWriter(Config{Addr: mr.Addr(), Key: "hub:events", MaxLen: 3})
	require.NoError(t, err)
	defer w.Close()

	for i := 1; i <= 5; i++ {
		ev := &models.CanonicalEvent{ID: fmt.Sprintf("e%d", i), TS: int64(i), Type: models.CodePushed}
		require.NoError(t, w.WriteEvents([]*models.CanonicalEvent{ev}))
	}

	list, err := mr.List("hub:events")
	require.NoError(t, err)
	require.Len(t, list, 3)

	var last models.CanonicalEvent
	require.NoError(t, json.Unmarshal([]byte(list[2]), &last))
	assert.Equal(t, "e5", last.ID)

	var first models.CanonicalEvent
	require.NoError(t, json.Unmarshal([]byte(list[0]), &first))
	assert.Equal(t, "e3", first.ID)
}

func TestNewWriterRequiresKey(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}

func TestWriteEventsServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	w, err := NewWriter(Config{Addr: mr.Addr(), Key: "k"})
	require.NoError(t, err)
	defer w.Close()
	mr.Close()

	assert.Error(t, w.WriteEvents([]*models.CanonicalEvent{{ID: "x"}}))
}
