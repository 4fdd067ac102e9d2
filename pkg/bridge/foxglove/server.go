package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"brainlink/pkg/engine"
	"brainlink/pkg/protocol"
)

// Server streams hub readings to Foxglove Studio over the foxglove websocket
// protocol. Every reading kind has its own JSON channel.
type Server struct {
	cfg      Config
	hub      *engine.Hub
	log      zerolog.Logger
	clients  map[*client]struct{}
	mu       sync.RWMutex
	listener net.Listener
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

func NewServer(cfg Config, hub *engine.Hub, log zerolog.Logger) *Server {
	defaults := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = defaults.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaults.TopicPrefix
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaults.SendBuf
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Listen binds the websocket address. Run calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return nil, fmt.Errorf("foxglove: listen %s: %w", s.cfg.WSAddr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		for _, c := range s.snapshotClients() {
			c.close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("foxglove client connected")

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		c.close()
		s.removeClient(c)
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		c.close()
		s.removeClient(c)
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels())

	c.close()
	s.removeClient(c)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("foxglove client disconnected")
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	channels := make(map[uint64]struct{})
	for _, ch := range s.advertise().Channels {
		channels[ch.ID] = struct{}{}
	}
	return channels
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
	}
}

func (s *Server) advertise() AdvertiseMsg {
	channel := func(id uint64, name, schemaName, schema string) Channel {
		return Channel{
			ID:             id,
			Topic:          s.cfg.topic(name),
			Encoding:       "json",
			SchemaName:     schemaName,
			SchemaEncoding: "jsonschema",
			Schema:         schema,
		}
	}
	return AdvertiseMsg{Op: OpAdvertise, Channels: []Channel{
		channel(ChannelCognitive, "cognitive", "brainlink.CognitiveState", cognitiveSchema),
		channel(ChannelTelemetry, "telemetry", "brainlink.ExtendedTelemetry", telemetrySchema),
		channel(ChannelRaw, "raw", "brainlink.RawSample", rawSchema),
		channel(ChannelGyro, "gyro", "brainlink.Gyro", gyroSchema),
		channel(ChannelTemperature, "temperature", "brainlink.Temperature", temperatureSchema),
		channel(ChannelLog, "log", "foxglove.Log", logSchema),
	}}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan protocol.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastReading(r)
		}
	}
}

func (s *Server) broadcastReading(r protocol.Reading) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ft := frameTime(ts)

	switch data := r.Data.(type) {
	case protocol.CognitiveState:
		s.publishJSONToChannel(ChannelCognitive, ts, CognitiveMessage{Timestamp: ft, CognitiveState: data})
	case protocol.ExtendedTelemetry:
		s.publishJSONToChannel(ChannelTelemetry, ts, TelemetryMessage{Timestamp: ft, ExtendedTelemetry: data})
		if temp, ok := temperatureFromTelemetry(data, ts); ok {
			s.publishJSONToChannel(ChannelTemperature, ts, temp)
		}
	case protocol.RawSample:
		s.publishJSONToChannel(ChannelRaw, ts, RawMessage{Timestamp: ft, Value: int16(data)})
	case protocol.Gyro:
		s.publishJSONToChannel(ChannelGyro, ts, GyroMessage{Timestamp: ft, Gyro: data})
	}
}

func temperatureFromTelemetry(t protocol.ExtendedTelemetry, ts time.Time) (TemperatureMessage, bool) {
	if t.Temperature == nil {
		return TemperatureMessage{}, false
	}
	return TemperatureMessage{
		Timestamp: frameTime(ts),
		Value:     *t.Temperature,
		Unit:      "C",
	}, true
}

// PublishLog sends a foxglove.Log message, used for link state changes.
func (s *Server) PublishLog(level uint8, message string) {
	ts := time.Now()
	s.publishJSONToChannel(ChannelLog, ts, LogMessage{
		Timestamp: frameTime(ts),
		Level:     level,
		Message:   message,
		Name:      s.cfg.Name,
	})
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	clients := s.snapshotClients()
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range clients {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops msg when the client is slow. The recover covers a send racing
// with close.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
