package dxp

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.message(Sent, OpMove)
	m.failure("other")
	m.sessionUp()
	m.sessionDown()
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) }, "collectors are registered once")
}

func TestMetrics_Session(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	rec := newRecorder()
	s := acceptSession(t, serverConn, rec, RoleOption(Follower), MetricsOption(metrics))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connected))

	_, err := clientConn.Write([]byte("R01" + PadName("x") + "W999040A"))
	require.NoError(t, err)
	rec.nextReceived(t)

	_, err = s.SendGameAccept(context.Background(), "y", 0)
	require.NoError(t, err)
	_, err = s.SendChat(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues("received", "game_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues("sent", "game_acceptance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues("sent", "chat")))

	_, err = clientConn.Write([]byte("M0001000101"))
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("malformed_field")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.connected))
}
