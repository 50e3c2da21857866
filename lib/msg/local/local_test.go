package local

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evannetwork/ui-angular-core-sub000/lib/msg"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

var _ msg.MsgBroker = (*Local)(nil)

func TestLocal(t *testing.T) {
	b := New()
	require.NoError(t, b.Setup(nil))

	mutA, mutB := new(sync.Mutex), new(sync.Mutex)
	mutA.Lock()
	mutB.Lock()

	a, _, err := b.GetEvents("a", mutA)
	require.NoError(t, err)

	c, _, err := b.GetEvents("b", mutB)
	require.NoError(t, err)

	_, _, err = b.GetEvents("a", mutA)
	assert.Error(t, err)

	// sending does not wait for consumers
	n := msg.Notifier(b, logrus.New())
	for i := 1; i <= 3; i++ {
		n.Notify(queue.Event{Kind: queue.EventUpdate, Status: i})
	}

	for i := 1; i <= 3; i++ {
		e := <-a
		assert.Equal(t, i, e.Status)
		mutA.Unlock()

		e = <-c
		assert.Equal(t, i, e.Status)
		mutB.Unlock()
	}

	require.NoError(t, b.Close())

	_, ok := <-a
	assert.False(t, ok)

	assert.ErrorIs(t, b.SendEvent(queue.Event{}), ErrClosed)
}
