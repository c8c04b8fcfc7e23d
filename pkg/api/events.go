package api

import (
	"net/http"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
)

// handleEvents upgrades to a WebSocket and streams broker events as JSON
// frames until the client disconnects. A slow client is dropped by the
// broker rather than backpressuring the control plane.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		log.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.broker.Subscribe()
	metrics.EventSubscribers.Inc()
	defer func() {
		s.broker.Unsubscribe(sub)
		metrics.EventSubscribers.Dec()
		conn.Close()
	}()

	// The read pump exists only to notice the peer going away; inbound
	// frames are discarded.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
