package meeting

import (
	"errors"
	"testing"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/app/meeting/api"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/status"
	"github.com/stretchr/testify/assert"
)

type wsConnMock struct {
	sCh         chan bool     // signals a started read
	valueCh     chan string   // subscription messages
	closedCount int
	written     []interface{}
	writeErr    error
}

func newWsConnMock() *wsConnMock {
	return &wsConnMock{sCh: make(chan bool), valueCh: make(chan string)}
}

func (f *wsConnMock) ReadMessage() (messageType int, p []byte, err error) {
	go func() { f.sCh <- true }()
	s, ok := <-f.valueCh
	if ok {
		return 1, []byte(s), nil
	}
	return 1, nil, errors.New("closed")
}

func (f *wsConnMock) Close() error {
	f.closedCount++
	return nil
}

func (f *wsConnMock) WriteJSON(v interface{}) error {
	f.written = append(f.written, v)
	return f.writeErr
}

func TestHandleConnection_ClosesOnReadFailure(t *testing.T) {
	hub := NewEventHub(newFakeStore())
	conn := newWsConnMock()
	fc := make(chan bool)
	go func() {
		hub.handleConnection(conn)
		fc <- true
	}()
	close(conn.valueCh)
	<-fc
	assert.Equal(t, 1, conn.closedCount)
	assert.Equal(t, 0, len(hub.idConnectionMap))
	assert.Equal(t, 0, len(hub.connectionIDMap))
}

func TestHandleConnection_Subscribes(t *testing.T) {
	hub := NewEventHub(newFakeStore())
	conn := newWsConnMock()
	fc := make(chan bool)
	go func() {
		hub.handleConnection(conn)
		fc <- true
	}()
	conn.valueCh <- "id1"
	<-conn.sCh
	<-conn.sCh // wait for next read

	c := hub.getConnections("id1")
	assert.Equal(t, []WsConn{conn}, c)

	close(conn.valueCh)
	<-fc
	assert.Equal(t, 0, len(hub.getConnections("id1")))
}

func TestHandleConnection_Resubscribes(t *testing.T) {
	hub := NewEventHub(newFakeStore())
	conn := newWsConnMock()
	fc := make(chan bool)
	go func() {
		hub.handleConnection(conn)
		fc <- true
	}()
	conn.valueCh <- "id1"
	conn.valueCh <- "id2"
	<-conn.sCh
	<-conn.sCh
	<-conn.sCh

	assert.Equal(t, 0, len(hub.getConnections("id1")))
	assert.Equal(t, []WsConn{conn}, hub.getConnections("id2"))
	assert.Equal(t, 1, len(hub.connectionIDMap))

	close(conn.valueCh)
	<-fc
}

func TestListen_SendsStatus(t *testing.T) {
	rec := pendingRecording("id1")
	rec.Status = status.Name(status.Completed)
	hub := NewEventHub(newFakeStore(rec))
	conn := newWsConnMock()
	hub.saveConnection(conn, "id1")

	events := make(chan StatusEvent, 1)
	events <- StatusEvent{ID: "id1", Status: "completed"}
	close(events)
	hub.Listen(events)

	assert.Equal(t, 1, len(conn.written))
	res, ok := conn.written[0].(*api.StatusResult)
	assert.True(t, ok)
	assert.Equal(t, "id1", res.ID)
	assert.Equal(t, "completed", res.Status)
	assert.NotNil(t, res.Errors)
}

func TestListen_SkipsUnsubscribedID(t *testing.T) {
	hub := NewEventHub(newFakeStore(pendingRecording("id1")))
	conn := newWsConnMock()
	hub.saveConnection(conn, "other")

	events := make(chan StatusEvent, 1)
	events <- StatusEvent{ID: "id1", Status: "completed"}
	close(events)
	hub.Listen(events)

	assert.Equal(t, 0, len(conn.written))
}

func TestListen_SendsToAllConnections(t *testing.T) {
	hub := NewEventHub(newFakeStore(pendingRecording("id1")))
	conn := newWsConnMock()
	conn1 := newWsConnMock()
	hub.saveConnection(conn, "id1")
	hub.saveConnection(conn1, "id1")

	events := make(chan StatusEvent, 1)
	events <- StatusEvent{ID: "id1", Status: "processing"}
	close(events)
	hub.Listen(events)

	assert.Equal(t, 1, len(conn.written))
	assert.Equal(t, 1, len(conn1.written))
}

func TestListen_SurvivesWriteFailure(t *testing.T) {
	hub := NewEventHub(newFakeStore(pendingRecording("id1")))
	conn := newWsConnMock()
	conn.writeErr = errors.New("broken pipe")
	hub.saveConnection(conn, "id1")

	events := make(chan StatusEvent, 1)
	events <- StatusEvent{ID: "id1", Status: "processing"}
	close(events)
	hub.Listen(events)
}

func TestProcessEvent_ConcurrentSubscriptionChanges(t *testing.T) {
	hub := NewEventHub(newFakeStore(pendingRecording("id1")))
	ev := StatusEvent{ID: "id1", Status: "processing"}
	fc := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			assert.Nil(t, hub.processEvent(&ev))
		}
		fc <- true
	}()
	for i := 0; i < 100; i++ {
		conn := newWsConnMock()
		hub.saveConnection(conn, "id1")
		hub.deleteConnection(conn)
	}
	<-fc
}

func TestListen_SurvivesUnknownRecording(t *testing.T) {
	hub := NewEventHub(newFakeStore())
	conn := newWsConnMock()
	hub.saveConnection(conn, "id1")

	events := make(chan StatusEvent, 1)
	events <- StatusEvent{ID: "id1", Status: "processing"}
	close(events)
	hub.Listen(events)

	assert.Equal(t, 0, len(conn.written))
}
