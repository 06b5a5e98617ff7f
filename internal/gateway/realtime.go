package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	heartbeatTick = 25 * time.Second
)

// frame is the wire envelope of the realtime channel protocol.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the body of INSERT/UPDATE/DELETE frames.
type changePayload struct {
	Type      string `json:"type"`
	Record    Row    `json:"record"`
	OldRecord Row    `json:"old_record"`
}

// feedConn multiplexes change-feed subscriptions over one websocket.
type feedConn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]*feedSub
	nextID int
	ref    int

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

type feedSub struct {
	conn    *feedConn
	id      int
	table   string
	filter  Filter
	handler func(ChangeEvent)
}

func dialFeed(ctx context.Context, baseURL, apiKey string, logger *zap.Logger) (*feedConn, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/realtime/v1/websocket?apikey=" + apiKey

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	fc := &feedConn{
		ws:     ws,
		logger: logger,
		subs:   make(map[int]*feedSub),
		done:   make(chan struct{}),
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))

	go fc.readLoop()
	go fc.heartbeatLoop()

	return fc, nil
}

func (fc *feedConn) subscribe(table string, f Filter, h func(ChangeEvent)) (Subscription, error) {
	fc.mu.Lock()
	id := fc.nextID
	fc.nextID++
	sub := &feedSub{conn: fc, id: id, table: table, filter: f, handler: h}
	fc.subs[id] = sub
	fc.mu.Unlock()

	if err := fc.send(frame{Topic: topicFor(table, f), Event: "phx_join", Payload: json.RawMessage("{}"), Ref: fc.nextRef()}); err != nil {
		fc.mu.Lock()
		delete(fc.subs, id)
		fc.mu.Unlock()
		return nil, fmt.Errorf("join channel %s: %w", table, err)
	}
	return sub, nil
}

func (s *feedSub) Unsubscribe() {
	fc := s.conn
	fc.mu.Lock()
	_, live := fc.subs[s.id]
	delete(fc.subs, s.id)
	fc.mu.Unlock()
	if live {
		_ = fc.send(frame{Topic: topicFor(s.table, s.filter), Event: "phx_leave", Payload: json.RawMessage("{}"), Ref: fc.nextRef()})
	}
}

func (fc *feedConn) readLoop() {
	defer fc.close()
	for {
		var fr frame
		if err := fc.ws.ReadJSON(&fr); err != nil {
			select {
			case <-fc.done:
			default:
				fc.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		_ = fc.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch fr.Event {
		case "INSERT", "UPDATE", "DELETE":
			fc.dispatch(fr)
		case "phx_reply", "phx_close", "heartbeat":
			// Channel bookkeeping, nothing to deliver.
		}
	}
}

func (fc *feedConn) dispatch(fr frame) {
	var payload changePayload
	if err := json.Unmarshal(fr.Payload, &payload); err != nil {
		fc.logger.Warn("realtime payload decode failed", zap.String("event", fr.Event), zap.Error(err))
		return
	}

	table := tableFromTopic(fr.Topic)
	evt := ChangeEvent{Table: table, New: payload.Record, Old: payload.OldRecord}
	switch fr.Event {
	case "INSERT":
		evt.Type = ChangeInsert
	case "UPDATE":
		evt.Type = ChangeUpdate
	case "DELETE":
		evt.Type = ChangeDelete
	}

	keyRow := evt.New
	if evt.Type == ChangeDelete {
		keyRow = evt.Old
	}

	fc.mu.Lock()
	var targets []*feedSub
	for _, sub := range fc.subs {
		if sub.table != table {
			continue
		}
		if len(sub.filter) > 0 && !sub.filter.Matches(keyRow) {
			continue
		}
		targets = append(targets, sub)
	}
	fc.mu.Unlock()

	for _, sub := range targets {
		sub.handler(evt)
	}
}

func (fc *feedConn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := fc.send(frame{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage("{}"), Ref: fc.nextRef()}); err != nil {
				fc.close()
				return
			}
		case <-fc.done:
			return
		}
	}
}

func (fc *feedConn) send(fr frame) error {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	_ = fc.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return fc.ws.WriteJSON(fr)
}

func (fc *feedConn) close() {
	fc.once.Do(func() {
		close(fc.done)
		_ = fc.ws.Close()
	})
}

func (fc *feedConn) nextRef() string {
	fc.mu.Lock()
	fc.ref++
	r := fc.ref
	fc.mu.Unlock()
	return strconv.Itoa(r)
}

func topicFor(table string, f Filter) string {
	topic := "realtime:public:" + table
	if len(f) > 0 {
		c := f[0]
		topic += fmt.Sprintf(":%s=%s.%v", c.Column, c.Op, c.Value)
	}
	return topic
}

func tableFromTopic(topic string) string {
	parts := strings.Split(topic, ":")
	if len(parts) >= 3 {
		return parts[2]
	}
	return topic
}
