package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/olahol/melody"
	"go.uber.org/zap"
)

const sidKey = "sid"

// ViewHub streams views to websocket clients. Each connection is bound to
// the session id of the token it connected with and only receives views of
// that session.
type ViewHub struct {
	m        *melody.Melody
	log      *zap.Logger
	snapshot func(sid string) (View, bool)
}

func NewViewHub(snapshot func(sid string) (View, bool), logger *zap.Logger) *ViewHub {
	m := melody.New()
	m.Config.MaxMessageSize = 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	h := &ViewHub{m: m, log: logger, snapshot: snapshot}

	m.HandleConnect(func(s *melody.Session) {
		sid, _ := s.Get(sidKey)
		id, _ := sid.(string)
		view, ok := h.snapshot(id)
		if !ok {
			return
		}
		data, err := json.Marshal(view)
		if err != nil {
			h.log.Error("encoding view", zap.Error(err))
			return
		}
		if err := s.Write(data); err != nil {
			h.log.Warn("sending initial view", zap.Error(err))
		}
	})

	m.HandleDisconnect(func(s *melody.Session) {
		h.log.Debug("view stream disconnected")
	})

	m.HandleError(func(s *melody.Session, err error) {
		h.log.Warn("view stream error", zap.Error(err))
	})

	return h
}

func (h *ViewHub) HandleWS(w http.ResponseWriter, r *http.Request, sid string) error {
	return h.m.HandleRequestWithKeys(w, r, map[string]any{sidKey: sid})
}

func (h *ViewHub) Publish(sid string, v View) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encoding view", zap.Error(err))
		return
	}

	err = h.m.BroadcastFilter(data, func(s *melody.Session) bool {
		id, ok := s.Get(sidKey)
		return ok && id == sid
	})
	if err != nil {
		h.log.Warn("broadcasting view", zap.Error(err))
	}
}

func (h *ViewHub) Close() error {
	return h.m.Close()
}
