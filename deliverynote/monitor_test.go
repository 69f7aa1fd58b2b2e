package deliverynote

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/micro-delivery-ingest/mailbox"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observeApp(tapp *TestApp) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.InfoLevel)
	tapp.app.logger = zap.New(core).Sugar()
	return logs
}

func TestMonitor1(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	logs := observeApp(tapp)
	gw := tapp.gateway

	gw.EXPECT().Connect(gomock.Any()).Return(errors.New("connection refused"))
	gw.EXPECT().Connect(gomock.Any()).Return(nil)
	gw.EXPECT().ListUnread(gomock.Any()).Return([]mailbox.Header{}, nil)
	gw.EXPECT().Disconnect().Return(nil).Times(2)

	monitor1(context.Background(), tapp.app)
	require.Equal(t, 1, logs.FilterMessage("mailbox unreachable, retrying next cycle").Len())

	monitor1(context.Background(), tapp.app)
	require.Equal(t, 1, logs.FilterMessage("poll cycle done").Len())

	require.True(t, tapp.app.coordinator.guard.TryAcquire(1))
	monitor1(context.Background(), tapp.app)
	tapp.app.coordinator.guard.Release(1)
	require.Equal(t, 1, logs.FilterMessage("previous poll cycle still running, skipping tick").Len())
}

func TestMonitorLoopStops(t *testing.T) {
	tapp := initTestBase(t, nil)
	defer tapp.Fini()
	logs := observeApp(tapp)
	gw := tapp.gateway

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	gw.EXPECT().Connect(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return errors.New("connection refused")
	}).MinTimes(2)
	gw.EXPECT().Disconnect().Return(nil).AnyTimes()

	done := make(chan struct{})
	go func() {
		defer close(done)
		monitorLoop(ctx, tapp.app, 10*time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor loop did not stop")
	}
	require.GreaterOrEqual(t, calls.Load(), int32(2))
	require.Equal(t, 1, logs.FilterMessage("monitor loop stopped").Len())
}
