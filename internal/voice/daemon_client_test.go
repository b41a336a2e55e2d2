package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon is a websocket server standing in for the speech daemon.
type fakeDaemon struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	received chan daemonMessage
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan daemonMessage, 16),
	}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.conns <- conn
		go func() {
			for {
				var msg daemonMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				d.received <- msg
			}
		}()
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDaemon) url() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http")
}

func (d *fakeDaemon) send(t *testing.T, conn *websocket.Conn, msg daemonMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func testConfig(url string) DaemonClientConfig {
	return DaemonClientConfig{
		URL:            url,
		ReconnectDelay: 20 * time.Millisecond,
		MaxReconnects:  3,
		Voice:          "af_sky",
	}
}

func TestTranscriptDelivery(t *testing.T) {
	daemon := newFakeDaemon(t)
	client := NewDaemonClient(testConfig(daemon.url()), zerolog.Nop())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	conn := <-daemon.conns

	daemon.send(t, conn, daemonMessage{Type: "transcript", SessionID: "s-1", Text: "check my email"})

	select {
	case u := <-client.Utterances():
		assert.Equal(t, "s-1", u.SessionID)
		assert.Equal(t, "check my email", u.Text)
		assert.False(t, u.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance delivered")
	}
}

func TestActivationEvents(t *testing.T) {
	daemon := newFakeDaemon(t)
	client := NewDaemonClient(testConfig(daemon.url()), zerolog.Nop())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	conn := <-daemon.conns

	daemon.send(t, conn, daemonMessage{Type: "activation", SessionID: "s-1"})
	daemon.send(t, conn, daemonMessage{Type: "barge_in", SessionID: "s-1"})

	var kinds []ActivationKind
	for i := 0; i < 2; i++ {
		select {
		case a := <-client.Activations():
			kinds = append(kinds, a.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("activation not delivered")
		}
	}
	assert.Equal(t, []ActivationKind{ActivationStart, ActivationStop}, kinds)
}

func TestSay(t *testing.T) {
	daemon := newFakeDaemon(t)
	client := NewDaemonClient(testConfig(daemon.url()), zerolog.Nop())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	<-daemon.conns

	require.NoError(t, client.Say(context.Background(), "s-1", "You have 3 unread messages."))

	select {
	case msg := <-daemon.received:
		assert.Equal(t, "speak", msg.Type)
		assert.Equal(t, "s-1", msg.SessionID)
		assert.Equal(t, "You have 3 unread messages.", msg.Text)
		assert.Equal(t, "af_sky", msg.Voice)
	case <-time.After(2 * time.Second):
		t.Fatal("speak request not received")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	daemon := newFakeDaemon(t)
	client := NewDaemonClient(testConfig(daemon.url()), zerolog.Nop())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	first := <-daemon.conns
	first.Close()

	// The client reconnects and keeps delivering.
	var second *websocket.Conn
	select {
	case second = <-daemon.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}

	daemon.send(t, second, daemonMessage{Type: "transcript", SessionID: "s-1", Text: "still here"})
	select {
	case u := <-client.Utterances():
		assert.Equal(t, "still here", u.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance after reconnect")
	}
}

func TestSayWithoutConnection(t *testing.T) {
	client := NewDaemonClient(testConfig("ws://127.0.0.1:1/ws"), zerolog.Nop())
	err := client.Say(context.Background(), "s-1", "hello")
	assert.Error(t, err)
}

func TestConnectTwice(t *testing.T) {
	daemon := newFakeDaemon(t)
	client := NewDaemonClient(testConfig(daemon.url()), zerolog.Nop())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.Error(t, client.Connect(context.Background()))
}
