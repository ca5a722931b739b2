package chatclient

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-chat-service/internal/models"
	"project-chat-service/internal/room"
	"project-chat-service/internal/ws"
)

type fakeProjects struct {
	memberChecks atomic.Int32
	deny         atomic.Bool
}

func (f *fakeProjects) GetProject(_ context.Context, projectID string) (models.Project, error) {
	return models.Project{ID: projectID}, nil
}

func (f *fakeProjects) IsMember(_ context.Context, _, _ string) (bool, error) {
	f.memberChecks.Add(1)
	return !f.deny.Load(), nil
}

type fakeMessages struct{}

func (fakeMessages) AppendMessage(context.Context, models.Message) error { return nil }

func (fakeMessages) ListProjectMessages(context.Context, string, int) ([]models.Message, error) {
	return nil, nil
}

func (fakeMessages) LastSeq(context.Context, string) (int64, error) { return 0, nil }

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (models.Identity, error) {
	return models.Identity{UserID: "u-" + token, DisplayName: token}, nil
}

func startChatServer(t *testing.T) (*httptest.Server, string, *fakeProjects) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	projects := &fakeProjects{}
	registry := room.NewRegistry(fakeMessages{}, room.Options{})
	handler := ws.NewHandler(registry, projects, fakeVerifier{}, 0)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", projects
}

// tcpProxy relays client connections to the test server so a test can
// sever the websocket at the socket layer. httptest removes hijacked
// connections from its tracking, so closing the server alone never
// drops an upgraded connection.
type tcpProxy struct {
	ln     net.Listener
	target string

	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func startProxy(t *testing.T, serverURL string) *tcpProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &tcpProxy{ln: ln, target: strings.TrimPrefix(serverURL, "http://")}
	go p.acceptLoop()
	t.Cleanup(p.Close)
	return p
}

func (p *tcpProxy) url() string {
	return "ws://" + p.ln.Addr().String() + "/ws"
}

func (p *tcpProxy) acceptLoop() {
	for {
		client, err := p.ln.Accept()
		if err != nil {
			return
		}
		backend, err := net.Dial("tcp", p.target)
		if err != nil {
			client.Close()
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			client.Close()
			backend.Close()
			return
		}
		p.conns = append(p.conns, client, backend)
		p.mu.Unlock()

		go func() {
			io.Copy(backend, client)
			backend.Close()
		}()
		go func() {
			io.Copy(client, backend)
			client.Close()
		}()
	}
}

// sever drops every relayed connection while keeping the listener up,
// simulating a transient network partition.
func (p *tcpProxy) sever() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (p *tcpProxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.ln.Close()
	p.sever()
}

func TestConnectJoinAndSend(t *testing.T) {
	_, wsURL, _ := startChatServer(t)

	echoes := make(chan models.Message, 8)
	c := New(Config{URL: wsURL, Token: "alice"}, Handlers{
		OnMessage: func(msg models.Message) { echoes <- msg },
	})
	defer c.Close()

	require.NoError(t, c.Connect("p-1"))
	require.True(t, c.Connected())

	id, seq, err := c.Send("hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), seq)

	select {
	case msg := <-echoes:
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, "u-alice", msg.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast echo received")
	}
}

func TestSendFailsFastWhenNeverConnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws", Token: "alice"}, Handlers{})
	defer c.Close()

	_, _, err := c.Send("hello")
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestTypingSuppressedWhileDisconnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws", Token: "alice"}, Handlers{})
	defer c.Close()

	assert.NoError(t, c.Typing())
	assert.NoError(t, c.StopTyping())
}

func TestReconnectRejoinsRoom(t *testing.T) {
	srv, _, projects := startChatServer(t)
	proxy := startProxy(t, srv.URL)

	c := New(Config{
		URL:        proxy.url(),
		Token:      "alice",
		RetryDelay: 50 * time.Millisecond,
		MaxRetries: 10,
	}, Handlers{})
	defer c.Close()

	require.NoError(t, c.Connect("p-1"))
	require.Equal(t, int32(1), projects.memberChecks.Load())

	proxy.sever()

	// a fresh connection re-runs the join, so the membership check fires again
	require.Eventually(t, func() bool {
		return projects.memberChecks.Load() >= 2 && c.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	_, _, err := c.Send("after reconnect")
	require.NoError(t, err)
}

func TestRetryBudgetExhaustedSurfacesDisconnect(t *testing.T) {
	srv, _, _ := startChatServer(t)
	proxy := startProxy(t, srv.URL)

	var disconnects atomic.Int32
	gaveUp := make(chan error, 4)
	c := New(Config{
		URL:        proxy.url(),
		Token:      "alice",
		RetryDelay: 20 * time.Millisecond,
		MaxRetries: 2,
	}, Handlers{
		OnDisconnected: func(err error) {
			disconnects.Add(1)
			gaveUp <- err
		},
	})
	defer c.Close()

	require.NoError(t, c.Connect("p-1"))
	proxy.Close()

	select {
	case err := <-gaveUp:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("retry budget never exhausted")
	}

	assert.False(t, c.Connected())
	_, _, err := c.Send("too late")
	assert.ErrorIs(t, err, ErrDisconnected)

	// the exhausted budget is reported exactly once
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestRejectedJoinDoesNotSpawnReconnects(t *testing.T) {
	_, wsURL, projects := startChatServer(t)
	projects.deny.Store(true)

	c := New(Config{
		URL:        wsURL,
		Token:      "alice",
		RetryDelay: 20 * time.Millisecond,
		MaxRetries: 3,
	}, Handlers{})
	defer c.Close()

	err := c.Connect("p-1")
	require.Error(t, err)
	require.Equal(t, int32(1), projects.memberChecks.Load())

	// a failed connect is the caller's to retry; no background loop may
	// keep dialing, so the membership check count stays put
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), projects.memberChecks.Load())
	assert.False(t, c.Connected())
}

func TestCloseIsPermanent(t *testing.T) {
	_, wsURL, _ := startChatServer(t)

	c := New(Config{URL: wsURL, Token: "alice"}, Handlers{})
	require.NoError(t, c.Connect("p-1"))
	require.NoError(t, c.Close())

	assert.False(t, c.Connected())
	_, _, err := c.Send("hello")
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, c.Connect("p-1"), ErrClosed)
}
