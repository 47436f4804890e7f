package outbox

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/flowstate/internal/platform/events"
)

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(513, []byte(`{"a":1}`))
	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(513), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, `{"a":1}`, string(frame[5:]))
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	m := NewDLQManager(nil, 0, 0)
	require.Equal(t, 5, m.maxRetries)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
}

func TestSchemaCatalogCoversEmittedEvents(t *testing.T) {
	for _, eventType := range []string{events.TypeActivityLogged, events.TypeActivityRejected} {
		require.Contains(t, schemaCatalog, eventType)
	}
}
