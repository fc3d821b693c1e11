package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/geosegment/internal/logging"
	"github.com/fyrsmithlabs/geosegment/internal/natstest"
)

func TestConstructors(t *testing.T) {
	n := Error("failed to process the image", errors.New("boom"))
	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, "boom", n.Detail)
	assert.False(t, n.Time.IsZero())

	assert.Equal(t, "", Error("x", nil).Detail)
	assert.Equal(t, LevelSuccess, Success("done").Level)
	assert.Equal(t, LevelInfo, Info("hi").Level)
}

func TestLogNotifier(t *testing.T) {
	logger := logging.NewTestLogger()
	n := NewLogNotifier(logger.Logger)

	n.Notify(context.Background(), Success("segmentation completed"))
	n.Notify(context.Background(), Error("failed to process the image", errors.New("500")))

	logger.AssertLogged(t, zapcore.InfoLevel, "segmentation completed")
	logger.AssertLogged(t, zapcore.WarnLevel, "failed to process the image")
	logger.AssertField(t, "failed to process the image", "detail", "500")
}

func TestChannelNotifier_DropsWhenFull(t *testing.T) {
	n := NewChannelNotifier(1)
	n.Notify(context.Background(), Info("first"))
	n.Notify(context.Background(), Info("second"))

	got := <-n.C()
	assert.Equal(t, "first", got.Message)
	select {
	case extra := <-n.C():
		t.Fatalf("unexpected notification %q", extra.Message)
	default:
	}
}

func TestMulti(t *testing.T) {
	a := NewChannelNotifier(1)
	b := NewChannelNotifier(1)
	m := NewMulti(a, nil)
	m.Add(b)
	m.Add(nil)

	m.Notify(context.Background(), Success("ok"))
	assert.Equal(t, "ok", (<-a.C()).Message)
	assert.Equal(t, "ok", (<-b.C()).Message)
}

func TestNATSNotifier(t *testing.T) {
	nc := natstest.Connect(t)
	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(NotificationSubject(LevelError), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	n := NewNATSNotifier(nc, logging.NewNop())
	n.Notify(context.Background(), Error("failed to process the image", errors.New("timeout")))

	select {
	case msg := <-ch:
		var got Notification
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, LevelError, got.Level)
		assert.Equal(t, "timeout", got.Detail)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestNotificationSubject(t *testing.T) {
	assert.Equal(t, "geosegment.notifications.success", NotificationSubject(LevelSuccess))
}
