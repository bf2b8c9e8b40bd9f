package monitor

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
)

type failingStore struct {
	*persistence.MemoryStore
}

func (failingStore) SetWithTTL(context.Context, string, time.Duration, []byte) error {
	return errors.New("disk full")
}

func TestMonitor_CountsEvents(t *testing.T) {
	m := NewMonitor("test")

	m.Publish(models.Event{Type: models.EventRoomCreated})
	m.Publish(models.Event{Type: models.EventRoomCreated})
	m.Publish(models.Event{Type: models.EventRoomDeleted})
	m.Publish(models.Event{Type: models.EventRoundFinished, FirstActor: &models.FirstActor{PlayerID: "a"}})
	m.Publish(models.Event{Type: models.EventRoundFinished})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.ActiveRooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.RoundsFinished))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.RoomEvents.WithLabelValues(string(models.EventRoundFinished))))

	m.SetActiveRooms(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.metrics.ActiveRooms))
}

func TestInstrumentedStore(t *testing.T) {
	m := NewMonitor("test")
	ctx := context.Background()

	store := m.InstrumentStore(persistence.NewMemoryStore())
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.metrics.StoreErrors.WithLabelValues("get")))

	require.NoError(t, store.SetWithTTL(ctx, "k", time.Minute, []byte("v")))
	require.NoError(t, store.Ping(ctx))
	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	broken := m.InstrumentStore(failingStore{persistence.NewMemoryStore()})
	assert.Error(t, broken.SetWithTTL(ctx, "k", time.Minute, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.StoreErrors.WithLabelValues("set")))
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("tap")
	m.IncOnlinePlayers()
	m.IncMessagesReceived("202")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "tap_online_players 1"))
	assert.True(t, strings.Contains(body, `tap_messages_received_total{msg_id="202"} 1`))
}
