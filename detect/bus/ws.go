package bus

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apisentinel/apisentinel/detect"
)

// Frame is the websocket wire envelope.
type Frame struct {
	Type   string            `json:"type"`
	Data   *detect.Detection `json:"data,omitempty"`
	Status string            `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API is same-host; dashboards connect cross-origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades requests to websocket sessions subscribed to the bus.
// Each detection is delivered as {"type":"detection","data":...}; any text
// message from the client is answered with a heartbeat frame.
func Handler(b *Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Debug("websocket upgrade rejected")
			return
		}

		sub := b.Subscribe()
		log := logrus.WithFields(logrus.Fields{"component": "bus", "session": sub.ID})

		// gorilla allows a single concurrent writer per connection.
		var writeMu sync.Mutex
		writeFrame := func(f Frame) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(f)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for d := range sub.C {
				if err := writeFrame(Frame{Type: "detection", Data: d}); err != nil {
					log.WithError(err).Debug("subscriber write failed")
					return
				}
			}
		}()

		for {
			kind, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("subscriber read failed")
				}
				break
			}
			if kind == websocket.TextMessage {
				if err := writeFrame(Frame{Type: "heartbeat", Status: "ok"}); err != nil {
					break
				}
			}
		}

		sub.Close()
		conn.Close()
		<-done
	})
}
