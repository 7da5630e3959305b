package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("embedded NATS server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSPublisher(t *testing.T) {
	ns := startNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	evals, err := sub.SubscribeSync("riskguard.evaluations.>")
	require.NoError(t, err)
	signals, err := sub.SubscribeSync("riskguard.ipsignals")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := ConnectNATS(ns.ClientURL(), "", zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Write(ctx, record("e1", "alice", now, models.LevelCritical, models.SignalBot)))
	require.NoError(t, pub.AttachIPSignal(ctx, "e1", &models.IPSignal{IPAddress: "1.2.3.4", VPNDetected: true}))

	msg, err := evals.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "riskguard.evaluations.critico", msg.Subject)
	var got models.AuditRecord
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "e1", got.ID)
	assert.True(t, got.Result.Blocked)

	msg, err = signals.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var ev IPSignalEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "e1", ev.EvaluationID)
	assert.True(t, ev.Signal.VPNDetected)
}
