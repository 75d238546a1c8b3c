package meeting

import (
	"net/http"
	"sync"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/app/meeting/api"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WsConn is interface for websocket handling
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// EventHub pushes recording status changes to subscribed websocket clients.
// A client subscribes by sending the recording ID as a text message
type EventHub struct {
	records RecordStore

	idConnectionMap map[string]map[WsConn]bool
	connectionIDMap map[WsConn]string
	mapLock         sync.Mutex
}

// NewEventHub creates the hub
func NewEventHub(records RecordStore) *EventHub {
	return &EventHub{records: records,
		idConnectionMap: make(map[string]map[WsConn]bool),
		connectionIDMap: make(map[WsConn]string)}
}

// Listen consumes pipeline events until the channel is closed
func (h *EventHub) Listen(events <-chan StatusEvent) {
	for ev := range events {
		err := h.processEvent(&ev)
		if err != nil {
			cmdapp.Log.Errorf("Can't process event for %s", ev.ID)
			cmdapp.Log.Error(err)
		}
	}
	cmdapp.Log.Infof("Stopped listening events")
}

func (h *EventHub) processEvent(ev *StatusEvent) error {
	cmdapp.Log.Infof("processEvent %s: %s", ev.ID, ev.Status)
	conns := h.getConnections(ev.ID)
	if len(conns) == 0 {
		cmdapp.Log.Infof("No connections found for %s", ev.ID)
		return nil
	}
	rec, err := h.records.Get(ev.ID)
	if err != nil {
		return errors.Wrap(err, "Can't get recording "+ev.ID)
	}
	result := api.StatusResult{ID: rec.ID, Status: rec.Status,
		OriginalFileName: rec.OriginalFileName, FileSizeBytes: rec.FileSizeBytes,
		SubjectName: rec.SubjectName, SubjectCategory: rec.SubjectCategory,
		ProcessingStartedAt: rec.ProcessingStartedAt,
		ProcessingEndedAt:   rec.ProcessingEndedAt,
		Errors:              rec.ProcessingErrors}
	if result.Errors == nil {
		result.Errors = make([]persistence.ProcessingError, 0)
	}
	for _, c := range conns {
		cmdapp.LogIf(sendMsg(c, &result))
	}
	return nil
}

func sendMsg(c WsConn, result *api.StatusResult) error {
	err := c.WriteJSON(result)
	if err != nil {
		return errors.Wrap(err, "Can't write to websocket")
	}
	return nil
}

func (h *EventHub) handleConnection(conn WsConn) {
	defer h.deleteConnection(conn)
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			cmdapp.Log.Error(err)
			break
		}
		h.saveConnection(conn, string(message))
	}
	cmdapp.Log.Infof("handleConnection finish")
}

func (h *EventHub) deleteConnection(conn WsConn) {
	h.mapLock.Lock()
	defer h.mapLock.Unlock()
	h.deleteConnectionNoSync(conn)
}

func (h *EventHub) deleteConnectionNoSync(conn WsConn) {
	id, found := h.connectionIDMap[conn]
	if found {
		conns, found := h.idConnectionMap[id]
		if found {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.idConnectionMap, id)
			}
		}
	}
	delete(h.connectionIDMap, conn)
	cmdapp.Log.Infof("deleteConnection finish: %d", len(h.connectionIDMap))
}

func (h *EventHub) saveConnection(conn WsConn, id string) {
	h.mapLock.Lock()
	defer h.mapLock.Unlock()
	h.deleteConnectionNoSync(conn)
	h.connectionIDMap[conn] = id
	conns, found := h.idConnectionMap[id]
	if !found {
		conns = map[WsConn]bool{}
		h.idConnectionMap[id] = conns
	}
	conns[conn] = true
	cmdapp.Log.Infof("saveConnection finish: %d", len(h.connectionIDMap))
}

// getConnections returns a snapshot of the subscribers for id. The copy is
// taken under the lock so the caller can iterate while reader goroutines
// mutate the maps
func (h *EventHub) getConnections(id string) []WsConn {
	h.mapLock.Lock()
	defer h.mapLock.Unlock()
	conns := h.idConnectionMap[id]
	res := make([]WsConn, 0, len(conns))
	for c := range conns {
		res = append(res, c)
	}
	return res
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

type webSocketHandler struct {
	data *ServiceData
}

func (h webSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cmdapp.Log.Infof("ws request from %s", r.Host)
	c, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		cmdapp.Log.Error(errors.Wrap(err, "Can't init ws connection"))
		return
	}
	go h.data.Hub.handleConnection(c)
}
