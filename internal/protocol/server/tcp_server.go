package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/protocol/jt808"
	"fleettrack/internal/session"
)

// TCPServer owns the device-facing listener. Each accepted connection gets
// its own synchronizer and dispatcher state; the media store and correlation
// tracker are shared because bulk uploads arrive on separate connections from
// the envelopes that announce them.
type TCPServer struct {
	port       int
	listener   net.Listener
	dispatcher *jt808.Dispatcher
	registry   *session.Registry
	media      *jt808.MediaStore
	tracker    *jt808.CorrelationTracker
	sweepAge   time.Duration

	mu    sync.RWMutex
	conns map[string]*liveConn // connection id -> live connection

	done chan struct{}
	log  zerolog.Logger
}

type liveConn struct {
	netConn net.Conn
	proto   *jt808.Conn
}

// Send implements jt808.Sender over the TCP connection.
func (c *liveConn) Send(frame []byte) error {
	c.netConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := c.netConn.Write(frame)
	return err
}

func NewTCPServer(port int, dispatcher *jt808.Dispatcher, registry *session.Registry,
	media *jt808.MediaStore, tracker *jt808.CorrelationTracker, sweepAge time.Duration) *TCPServer {
	return &TCPServer{
		port:       port,
		dispatcher: dispatcher,
		registry:   registry,
		media:      media,
		tracker:    tracker,
		sweepAge:   sweepAge,
		conns:      make(map[string]*liveConn),
		done:       make(chan struct{}),
		log:        log.With().Str("mod", "tcp").Logger(),
	}
}

func (s *TCPServer) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.log.Info().Int("port", s.port).Msg("TCP server listening")

	go s.acceptConnections()
	go s.sweepLoop()
	return nil
}

func (s *TCPServer) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, c := range s.conns {
		c.netConn.Close()
	}
	s.mu.Unlock()
}

// SendCommand routes a command to the device's live connection.
func (s *TCPServer) SendCommand(deviceID string, cmd jt808.Command) error {
	connID, ok := s.registry.ConnFor(deviceID)
	if !ok {
		return fmt.Errorf("device %s is not connected", deviceID)
	}

	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("device %s is not connected", deviceID)
	}

	cmd.DeviceID = deviceID
	if cmd.Type == jt808.CmdOilControl {
		cmd.Alternative = s.registry.AltOil(deviceID)
	}
	frame := jt808.EncodeCommand(cmd)
	if frame == nil {
		return errors.New("unsupported command type")
	}
	return c.Send(frame)
}

func (s *TCPServer) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	connID := conn.RemoteAddr().String()
	lc := &liveConn{netConn: conn}
	lc.proto = s.dispatcher.NewConn(connID, lc)

	s.mu.Lock()
	s.conns[connID] = lc
	s.mu.Unlock()

	s.log.Debug().Str("conn", connID).Msg("connection opened")

	defer func() {
		lc.proto.Close()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		s.log.Debug().Str("conn", connID).Str("device", lc.proto.DeviceID()).
			Msg("connection closed")
	}()

	buffer := make([]byte, 8192)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		n, err := conn.Read(buffer)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Str("conn", connID).Msg("read failed")
			}
			return
		}
		lc.proto.HandleBytes(buffer[:n])
	}
}

// sweepLoop periodically evicts stale correlations and abandoned transfers.
func (s *TCPServer) sweepLoop() {
	ticker := time.NewTicker(s.sweepAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.tracker.Sweep(s.sweepAge); n > 0 {
				s.log.Info().Int("evicted", n).Msg("correlation sweep")
			}
			if n := s.media.Sweep(s.sweepAge); n > 0 {
				s.log.Info().Int("evicted", n).Msg("transfer sweep")
			}
		}
	}
}
