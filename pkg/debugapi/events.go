// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
)

const eventsBuffer = 64

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	writeDeadline = 4 * time.Second // should be smaller than the shutdown timeout

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to the client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

type eventResponse struct {
	Type   string         `json:"type"`
	Record recordResponse `json:"record"`
}

// eventsHandler upgrades the connection to a websocket and streams the
// store events to it as JSON text messages.
func (s *Service) eventsHandler(w http.ResponseWriter, r *http.Request) {
	var kinds []record.Kind
	for _, v := range r.URL.Query()["kind"] {
		k, err := record.ParseKind(v)
		if err != nil {
			s.logger.Debugf("debug api: events: %v", err)
			jsonhttp.BadRequest(w, "invalid kind")
			return
		}
		kinds = append(kinds, k)
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.closed {
		jsonhttp.ServiceUnavailable(w, "shutting down")
		return
	}

	// subscribed before the upgrade so that no event after the handshake is missed
	sub := s.store.Subscribe(eventsBuffer)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		sub.Unsubscribe()
		s.logger.Debugf("debug api: events: upgrade: %v", err)
		return
	}

	s.wsWg.Add(1)
	go s.pumpEvents(conn, sub, kinds)
}

func (s *Service) pumpEvents(conn *websocket.Conn, sub *store.Subscription, kinds []record.Kind) {
	defer s.wsWg.Done()

	var (
		gone   = make(chan struct{})
		ticker = time.NewTicker(pingPeriod)
		err    error
	)
	defer func() {
		ticker.Stop()
		sub.Unsubscribe()
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetCloseHandler(func(code int, text string) error {
		s.logger.Debugf("debug api: events: client gone. code %d message %s", code, text)
		return nil
	})

	// control frames are only processed while reading
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-sub.C:
			if !matchKind(kinds, e.Record.Base().Kind) {
				continue
			}
			if err = conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("debug api: events: set write deadline: %v", err)
				return
			}
			if err = conn.WriteJSON(newEventResponse(e)); err != nil {
				s.logger.Debugf("debug api: events: write: %v", err)
				return
			}

		case <-s.quit:
			if err = conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("debug api: events: set write deadline: %v", err)
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			if err = conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				s.logger.Debugf("debug api: events: write close message: %v", err)
			}
			return

		case <-gone:
			return

		case <-ticker.C:
			if err = conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("debug api: events: set write deadline: %v", err)
				return
			}
			if err = conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func newEventResponse(e store.Event) eventResponse {
	return eventResponse{
		Type:   e.Type.String(),
		Record: newRecordResponse(e.Record),
	}
}

func matchKind(kinds []record.Kind, k record.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}
