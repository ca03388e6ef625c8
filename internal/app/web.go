package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webServer keeps the latest published state and fans it out to websocket
// clients. Control actions are forwarded through send.
type webServer struct {
	send func(ControlMessage) error

	mu        sync.RWMutex
	last      pipeline.State
	haveState bool
	clients   map[chan pipeline.State]struct{}
}

func newWebServer(send func(ControlMessage) error) *webServer {
	return &webServer{send: send, clients: make(map[chan pipeline.State]struct{})}
}

// update stores st and pushes it to every client. Slow clients miss states
// rather than block the MQTT callback.
func (s *webServer) update(st pipeline.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	s.haveState = true
	for ch := range s.clients {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *webServer) addClient() chan pipeline.State {
	ch := make(chan pipeline.State, 16)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	if s.haveState {
		ch <- s.last
	}
	s.mu.Unlock()
	return ch
}

func (s *webServer) removeClient(ch chan pipeline.State) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *webServer) handler(staticDir string) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest state
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		st, ok := s.last, s.haveState
		s.mu.RUnlock()

		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("/api/calibration", s.controlHandler(ActionStartCalibration))
	mux.HandleFunc("/api/recording", s.controlHandler(ActionToggleRecording))
	mux.HandleFunc("/ws", s.handleWS)

	// Static files as the root
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) controlHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.send(ControlMessage{Action: action}); err != nil {
			log.Printf("web: control %s: %v", action, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusAccepted, ControlMessage{Action: action})
	}
}

// wsResponse is sent to websocket clients.
type wsResponse struct {
	Type    string          `json:"type"` // state, error
	State   *pipeline.State `json:"state,omitempty"`
	Message string          `json:"message,omitempty"`
}

// handleWS pushes every state to the client and forwards the client's
// control actions.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := s.addClient()
	defer s.removeClient(ch)

	var writeMu sync.Mutex
	write := func(resp wsResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(resp)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("web: websocket read error: %v", err)
				}
				return
			}
			msg, err := DecodeControl(payload)
			if err == nil {
				err = s.send(msg)
			}
			if err != nil {
				write(wsResponse{Type: "error", Message: err.Error()})
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case st := <-ch:
			if err := write(wsResponse{Type: "state", State: &st}); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

// RunWeb serves the JSON API, the websocket and static files from ./web,
// fed by the tracker's state topic.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT("web", cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	srv := newWebServer(func(msg ControlMessage) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		token := client.Publish(cfg.TopicControl, 1, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return errors.New("control publish timed out")
		}
		return token.Error()
	})

	err = subscribe("web", client, cfg.TopicState, func(_ mqtt.Client, msg mqtt.Message) {
		st, err := pipeline.DecodeState(msg.Payload())
		if err != nil {
			log.Printf("web: state unmarshal error: %v", err)
			return
		}
		srv.update(st)
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: srv.handler("web"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: server listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
