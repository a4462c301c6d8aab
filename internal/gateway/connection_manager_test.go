package gateway

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/afrintel/lms-realtime/internal/models"
)

// A broadcast loop snapshots its targets before delivering, so it can hold a
// connection that disconnects in between. Delivery to it must be a silent
// drop, never a panic.
func TestSendTo_DisconnectedConnectionIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, &models.User{ID: "u1"})

	cm.unregister(conn)
	cm.SendTo(conn, []byte(`{"event":"leaderboard:update"}`))

	assertNoMessage(t, conn)
	assert.Zero(t, cm.GetStats().TotalConnections)
}

func TestUnregister_IsIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, &models.User{ID: "u1"})

	cm.unregister(conn)
	cm.unregister(conn)

	assert.Zero(t, cm.GetStats().TotalConnections)
}

func TestSendTo_ConcurrentWithDisconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, &models.User{ID: "u1"})
	conn.Send = make(chan []byte, 1024)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cm.SendTo(conn, []byte(fmt.Sprintf(`{"event":"leaderboard:update","data":{"n":%d}}`, i)))
		}
	}()
	go func() {
		defer wg.Done()
		cm.unregister(conn)
	}()
	wg.Wait()
}
