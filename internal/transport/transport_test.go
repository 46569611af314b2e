package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/wire"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text string `json:"text"`
}

func newEchoRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Server)
	reg.Register(&registry.Descriptor{
		Name:        "Echo",
		HasResponse: true,
		DecodeBinary: func(r *wire.Reader) (interface{}, error) {
			var req echoRequest
			if err := wire.DecodeBinaryJSON(r, &req); err != nil {
				return nil, err
			}
			return req, nil
		},
		DecodeJSON: func(fields json.RawMessage) (interface{}, error) {
			var req echoRequest
			if err := json.Unmarshal(fields, &req); err != nil {
				return nil, err
			}
			return req, nil
		},
	})
	return reg
}

// startEchoServer brings up a transport.Server whose queue is drained by
// a consumer goroutine completing every Echo command, standing in for
// the state machine thread.
func startEchoServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	logger := logging.New(logging.Config{Level: logging.ERROR, Component: "test"})
	queue := dispatch.NewQueue()
	srv := NewServer(logger, newEchoRegistry(t), queue, NewAuth())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-queue.Wait():
			case <-time.After(5 * time.Millisecond):
			}
			for _, e := range queue.DrainAll() {
				req := e.Body.(echoRequest)
				e.Sink.Complete(echoResponse{Text: req.Text})
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeHTTP)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() { close(done); ts.Close() })
	return ts, srv
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestClient_JSONRequestResponseRoundTrip(t *testing.T) {
	ts, _ := startEchoServer(t)

	client, err := Dial(context.Background(), wsURL(ts), JSON, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	res := client.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "hello"}, time.Second)
	require.Nil(t, res.Err)

	var resp echoResponse
	raw, ok := res.Value.(json.RawMessage)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "hello", resp.Text)
}

func TestClient_SequentialRequestsCorrelateInOrder(t *testing.T) {
	ts, _ := startEchoServer(t)

	client, err := Dial(context.Background(), wsURL(ts), JSON, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	for _, text := range []string{"one", "two", "three"} {
		res := client.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: text}, time.Second)
		require.Nil(t, res.Err)
		var resp echoResponse
		require.NoError(t, json.Unmarshal(res.Value.(json.RawMessage), &resp))
		assert.Equal(t, text, resp.Text)
	}
}

func TestClient_UnknownCommandYieldsSchemaError(t *testing.T) {
	ts, _ := startEchoServer(t)

	client, err := Dial(context.Background(), wsURL(ts), JSON, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	res := client.SendCommandAndGetResponse(context.Background(), "NoSuchCommand", struct{}{}, time.Second)
	require.NotNil(t, res.Err)
}

// TestClient_TimeoutWhenServerNeverResponds exercises the
// bounded-resolution guarantee: a pending request with timeout T must
// resolve with TransportError("timeout") rather than hang.
func TestClient_TimeoutWhenServerNeverResponds(t *testing.T) {
	logger := logging.New(logging.Config{Level: logging.ERROR, Component: "test"})
	queue := dispatch.NewQueue() // never drained: responses never fire
	srv := NewServer(logger, newEchoRegistry(t), queue, NewAuth())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeHTTP)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := Dial(context.Background(), wsURL(ts), JSON, logger)
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	res := client.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "x"}, 100*time.Millisecond)
	require.NotNil(t, res.Err)
	assert.Equal(t, wire.KindTransport, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestClient_CloseResolvesAllPending exercises the disconnection
// property: closing a connection with N pending requests must resolve
// all N with a transport error in bounded time.
func TestClient_CloseResolvesAllPending(t *testing.T) {
	logger := logging.New(logging.Config{Level: logging.ERROR, Component: "test"})
	queue := dispatch.NewQueue() // never drained
	srv := NewServer(logger, newEchoRegistry(t), queue, NewAuth())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeHTTP)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := Dial(context.Background(), wsURL(ts), JSON, logger)
	require.NoError(t, err)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan *wire.ApiError, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := client.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "pending"}, 30*time.Second)
			errs <- res.Err
		}()
	}

	time.Sleep(50 * time.Millisecond) // let all five install pending entries
	require.NoError(t, client.Close())
	wg.Wait()
	close(errs)

	count := 0
	for apiErr := range errs {
		require.NotNil(t, apiErr)
		assert.Equal(t, wire.KindTransport, apiErr.Kind)
		count++
	}
	assert.Equal(t, n, count)
}

func TestBroadcast_OnlyReachesSubscribedConnections(t *testing.T) {
	ts, srv := startEchoServer(t)

	logger := logging.New(logging.Config{Level: logging.ERROR})
	subscribed, err := Dial(context.Background(), wsURL(ts), JSON, logger)
	require.NoError(t, err)
	defer subscribed.Close()
	unsubscribed, err := Dial(context.Background(), wsURL(ts), JSON, logger)
	require.NoError(t, err)
	defer unsubscribed.Close()

	gotSub := make(chan string, 1)
	subscribed.OnBroadcast(func(name string, fields json.RawMessage) { gotSub <- name })
	gotUnsub := make(chan string, 1)
	unsubscribed.OnBroadcast(func(name string, fields json.RawMessage) { gotUnsub <- name })

	// A fresh connection is unsubscribed; flip one on
	// directly through the server-side handle.
	require.Eventually(t, func() bool { return len(srv.Connections()) == 2 }, time.Second, 10*time.Millisecond)

	// Force both connections to negotiate a protocol (the read side
	// records it from the first inbound frame).
	require.Nil(t, subscribed.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "a"}, time.Second).Err)
	require.Nil(t, unsubscribed.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "b"}, time.Second).Err)

	// Subscribe exactly one of the two.
	ids := srv.Connections()
	first, ok := srv.Conn(ids[0])
	require.True(t, ok)
	first.SetSubscribed(true)

	srv.Broadcast("EvolutionProgress", map[string]int{"generation": 1})

	var sub, unsub int
	deadline := time.After(time.Second)
	for sub+unsub == 0 {
		select {
		case <-gotSub:
			sub++
		case <-gotUnsub:
			unsub++
		case <-deadline:
			t.Fatal("no broadcast delivered within deadline")
		}
	}
	assert.Equal(t, 1, sub+unsub)
}

func TestAuth_DisabledRejectsNonLoopback(t *testing.T) {
	a := NewAuth()
	req := &http.Request{RemoteAddr: "203.0.113.9:4242", Header: http.Header{}}
	assert.Error(t, a.CheckHandshake(req))

	local := &http.Request{RemoteAddr: "127.0.0.1:4242", Header: http.Header{}}
	assert.NoError(t, a.CheckHandshake(local))
}

func TestAuth_EnabledRequiresMatchingBearerToken(t *testing.T) {
	a := NewAuth()
	a.Set(true, "T")

	good := &http.Request{RemoteAddr: "203.0.113.9:4242", Header: http.Header{"Authorization": []string{"Bearer T"}}}
	assert.NoError(t, a.CheckHandshake(good))

	bad := &http.Request{RemoteAddr: "203.0.113.9:4242", Header: http.Header{"Authorization": []string{"Bearer wrong"}}}
	assert.Error(t, a.CheckHandshake(bad))

	missing := &http.Request{RemoteAddr: "203.0.113.9:4242", Header: http.Header{}}
	assert.Error(t, a.CheckHandshake(missing))

	// Loopback never needs the token, even when enabled.
	local := &http.Request{RemoteAddr: "[::1]:4242", Header: http.Header{}}
	assert.NoError(t, a.CheckHandshake(local))
}

func TestAuth_DisableAfterEnableRevertsToLoopbackOnly(t *testing.T) {
	a := NewAuth()
	a.Set(true, "T")
	a.Set(false, "")

	remote := &http.Request{RemoteAddr: "203.0.113.9:4242", Header: http.Header{"Authorization": []string{"Bearer T"}}}
	assert.Error(t, a.CheckHandshake(remote))
}

type cellPutRequest struct {
	X     int32 `json:"x"`
	Y     int32 `json:"y"`
	Value uint8 `json:"value"`
}

func (req cellPutRequest) MarshalBody(w *wire.Writer) error {
	w.WriteInt32(req.X)
	w.WriteInt32(req.Y)
	w.WriteUint8(req.Value)
	return nil
}

func (req *cellPutRequest) UnmarshalBody(r *wire.Reader) error {
	var err error
	if req.X, err = r.ReadInt32(); err != nil {
		return err
	}
	if req.Y, err = r.ReadInt32(); err != nil {
		return err
	}
	req.Value, err = r.ReadUint8()
	return err
}

type cellPutResponse struct {
	Value uint8 `json:"value"`
}

func (resp cellPutResponse) MarshalBody(w *wire.Writer) error {
	w.WriteUint8(resp.Value)
	return nil
}

func (resp *cellPutResponse) UnmarshalBody(r *wire.Reader) error {
	var err error
	resp.Value, err = r.ReadUint8()
	return err
}

func decodeCellPutOkay(r *wire.Reader) (interface{}, error) {
	var resp cellPutResponse
	if err := resp.UnmarshalBody(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// startBinaryServer registers one field-coded command (CellPut) next to
// the JSON-coded Echo, with a consumer completing both.
func startBinaryServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := logging.New(logging.Config{Level: logging.ERROR, Component: "test"})
	queue := dispatch.NewQueue()
	reg := newEchoRegistry(t)
	reg.Register(&registry.Descriptor{
		Name:        "CellPut",
		Mutates:     true,
		HasResponse: true,
		DecodeBinary: func(r *wire.Reader) (interface{}, error) {
			var req cellPutRequest
			if err := req.UnmarshalBody(r); err != nil {
				return nil, err
			}
			return req, nil
		},
		DecodeJSON: func(fields json.RawMessage) (interface{}, error) {
			var req cellPutRequest
			if err := json.Unmarshal(fields, &req); err != nil {
				return nil, err
			}
			return req, nil
		},
		EncodeOkayBinary: func(v interface{}, w *wire.Writer) error {
			return v.(cellPutResponse).MarshalBody(w)
		},
		DecodeOkayBinary: decodeCellPutOkay,
	})
	srv := NewServer(logger, reg, queue, NewAuth())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-queue.Wait():
			case <-time.After(5 * time.Millisecond):
			}
			for _, e := range queue.DrainAll() {
				switch req := e.Body.(type) {
				case cellPutRequest:
					e.Sink.Complete(cellPutResponse{Value: req.Value * 2})
				case echoRequest:
					e.Sink.Complete(echoResponse{Text: req.Text})
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeHTTP)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() { close(done); ts.Close() })
	return ts
}

// TestClient_BinaryProtocolFieldCodecRoundTrip drives a fully binary
// request/response pair: the request body is field-encoded, the okay
// body field-decoded, no JSON anywhere in the payload.
func TestClient_BinaryProtocolFieldCodecRoundTrip(t *testing.T) {
	ts := startBinaryServer(t)

	client, err := Dial(context.Background(), wsURL(ts), Binary, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	res := client.SendBinaryCommandAndGetResponse(context.Background(), "CellPut",
		cellPutRequest{X: 1, Y: -2, Value: 21}, decodeCellPutOkay, time.Second)
	require.Nil(t, res.Err)
	assert.Equal(t, cellPutResponse{Value: 42}, res.Value)
}

// TestClient_BinaryProtocolJSONBodyFallback: a command without a field
// codec rides JSON inside the binary envelope, and its okay body comes
// back as raw JSON.
func TestClient_BinaryProtocolJSONBodyFallback(t *testing.T) {
	ts := startBinaryServer(t)

	client, err := Dial(context.Background(), wsURL(ts), Binary, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	res := client.SendCommandAndGetResponse(context.Background(), "Echo", echoRequest{Text: "hello"}, time.Second)
	require.Nil(t, res.Err)
	var resp echoResponse
	require.NoError(t, json.Unmarshal(res.Value.(json.RawMessage), &resp))
	assert.Equal(t, "hello", resp.Text)
}

// TestClient_BinaryProtocolErrorBody: failures over the binary protocol
// come back through the field-encoded error body, kind intact.
func TestClient_BinaryProtocolErrorBody(t *testing.T) {
	ts := startBinaryServer(t)

	client, err := Dial(context.Background(), wsURL(ts), Binary, logging.New(logging.Config{Level: logging.ERROR}))
	require.NoError(t, err)
	defer client.Close()

	res := client.SendCommandAndGetResponse(context.Background(), "NoSuchCommand", struct{}{}, time.Second)
	require.NotNil(t, res.Err)
	assert.Equal(t, wire.KindSchema, res.Err.Kind)
}
