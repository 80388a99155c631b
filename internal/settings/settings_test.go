package settings

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSnapshot(t *testing.T) {
	s := NewStatic(Snapshot{RxPPM: 12, TxPPM: -4})
	got := s.Snapshot()
	assert.Equal(t, 12, got.RxPPM)
	assert.Equal(t, -4, got.TxPPM)

	s.Set(Snapshot{RxPPM: 0})
	assert.Equal(t, 0, s.Snapshot().RxPPM)
}

type fakeConn struct {
	subject string
	cb      nats.MsgHandler
	closed  bool
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.subject = subject
	f.cb = cb
	return &nats.Subscription{}, nil
}
func (f *fakeConn) Close() { f.closed = true }

func (f *fakeConn) publish(t *testing.T, u update) {
	t.Helper()
	require.NotNil(t, f.cb)
	data, err := json.Marshal(u)
	require.NoError(t, err)
	f.cb(&nats.Msg{Data: data})
}

func TestNATSSnapshotStartsFromBase(t *testing.T) {
	fc := &fakeConn{}
	n := NewNATSWithConnection(fc, "settings.device-1", Snapshot{
		RxPPM: 5, TxPPM: 5, InputDeviceName: "default",
	})
	require.NoError(t, n.Start())
	assert.Equal(t, "settings.device-1", fc.subject)

	got := n.Snapshot()
	assert.Equal(t, 5, got.RxPPM)
	assert.Equal(t, "default", got.InputDeviceName)
}

func TestNATSSnapshotReflectsLiveUpdate(t *testing.T) {
	fc := &fakeConn{}
	n := NewNATSWithConnection(fc, "settings.device-1", Snapshot{RxPPM: 0, TxPPM: 0})
	require.NoError(t, n.Start())

	newRx := 37
	fc.publish(t, update{RxPPM: &newRx})

	assert.Equal(t, 37, n.Snapshot().RxPPM)
	assert.Equal(t, 0, n.Snapshot().TxPPM)
}

func TestNATSClosePropagatesToConnection(t *testing.T) {
	fc := &fakeConn{}
	n := NewNATSWithConnection(fc, "settings.device-1", Snapshot{})
	require.NoError(t, n.Start())
	n.Close()
	assert.True(t, fc.closed)
}
