package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/api/ws"
	"github.com/Prison3/prison/internal/domain/registry"
	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	memstore "github.com/Prison3/prison/internal/infrastructure/storage/memory"
	"github.com/Prison3/prison/internal/shared/types"
	"github.com/Prison3/prison/tests/helpers/testutil"
)

type envelope struct {
	Type      string          `json:"type"`
	ProfileID int             `json:"profile_id"`
	Snapshot  *types.Snapshot `json:"snapshot"`
	Result    *types.Result   `json:"result"`
	Message   string          `json:"message"`
}

func setup(t *testing.T) (*registry.Registry, *engine.Memory, *monitoring.Metrics, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.NewMemory()
	metrics := monitoring.NewMetrics()
	reg := registry.New(registry.Deps{Engine: eng, Store: memstore.New(), Metrics: metrics})

	router := gin.New()
	router.GET("/profiles/:id/watch", ws.NewHandler(reg, metrics, nil).HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(reg.Close)

	return reg, eng, metrics, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg envelope
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil reads messages until one of type want arrives
func readUntil(t *testing.T, conn *websocket.Conn, want string) envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := read(t, conn)
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %q message", want)
	return envelope{}
}

func TestStreamsInitialSnapshot(t *testing.T) {
	_, eng, _, url := setup(t)
	eng.Seed(0, testutil.Packages("com.a", "com.b")...)

	conn := dial(t, url+"/profiles/0/watch")
	assert.Equal(t, "connected", read(t, conn).Type)

	msg := readUntil(t, conn, "snapshot")
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, []string{"com.a", "com.b"}, msg.Snapshot.PackageIDs())
}

func TestStreamsLaterPublishes(t *testing.T) {
	reg, eng, _, url := setup(t)
	eng.Seed(0, testutil.Packages("com.a")...)
	reg.Refresh(context.Background(), 0)

	conn := dial(t, url+"/profiles/0/watch")
	readUntil(t, conn, "snapshot")

	eng.Seed(0, testutil.Packages("com.b")...)
	res := reg.Reorder(context.Background(), 0, []string{"com.b"})
	require.True(t, res.Success)

	var gotResult, gotSnapshot bool
	for i := 0; i < 10 && !(gotResult && gotSnapshot); i++ {
		msg := read(t, conn)
		switch msg.Type {
		case "result":
			require.NotNil(t, msg.Result)
			assert.Equal(t, res.OperationID, msg.Result.OperationID)
			gotResult = true
		case "snapshot":
			require.NotNil(t, msg.Snapshot)
			assert.Equal(t, []string{"com.b", "com.a"}, msg.Snapshot.PackageIDs())
			gotSnapshot = true
		}
	}
	assert.True(t, gotResult)
	assert.True(t, gotSnapshot)
}

func TestClientMessages(t *testing.T) {
	_, eng, metrics, url := setup(t)
	eng.Seed(0)

	conn := dial(t, url+"/profiles/0/watch")
	readUntil(t, conn, "connected")

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "ping"}))
	readUntil(t, conn, "pong")

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "bogus"}))
	msg := readUntil(t, conn, "error")
	assert.Equal(t, "unknown message type", msg.Message)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "refresh"}))
	readUntil(t, conn, "snapshot")

	assert.Equal(t, 1.0, gaugeValue(t, metrics))
}

func TestRejectsBadProfile(t *testing.T) {
	_, _, _, url := setup(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"/profiles/nope/watch", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func gaugeValue(t *testing.T, metrics *monitoring.Metrics) float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "prison_ws_connections" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("prison_ws_connections not registered")
	return 0
}
