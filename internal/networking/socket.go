// Package networking manages the device's connection to the remote collector.
package networking

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/icr-ctl/scrubcam/internal/logger"
	"github.com/icr-ctl/scrubcam/internal/vision"
)

// Message types understood by the collector.
const (
	TypeHostConfigs = "host_configs"
	TypeHeartbeat   = "heartbeat"
	TypeImage       = "image"
)

// HostConfigsMessage announces the device's filter classes and whether this
// run continues a previous session. Sent once, right after connecting.
type HostConfigsMessage struct {
	Type          string   `json:"type"`
	FilterClasses []string `json:"filter_classes"`
	ContinueRun   bool     `json:"continue_run"`
}

// HeartbeatMessage is the periodic liveness signal.
type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ImageMessage carries one base64-encoded JPEG frame with its labeled boxes.
type ImageMessage struct {
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Image     string             `json:"image"`
	Boxes     []vision.Detection `json:"lboxes"`
}

// SocketHandler is the websocket client side of the collector link. It is not
// safe for concurrent use; the dispatch loop is its only caller.
type SocketHandler struct {
	conn   *websocket.Conn
	logger *logger.Logger
}

// Dial connects to the collector at addr (host:port).
func Dial(addr string, log *logger.Logger) (*SocketHandler, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector %s: %w", addr, err)
	}
	log.Info("Connected to collector at %s", addr)

	return &SocketHandler{conn: conn, logger: log}, nil
}

// SendHostConfigs forwards the filter classes and the continue flag.
func (s *SocketHandler) SendHostConfigs(filterClasses []string, continueRun bool) error {
	msg := HostConfigsMessage{
		Type:          TypeHostConfigs,
		FilterClasses: filterClasses,
		ContinueRun:   continueRun,
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send host configs: %w", err)
	}
	return nil
}

// SendHeartbeat sends one liveness signal.
func (s *SocketHandler) SendHeartbeat() error {
	msg := HeartbeatMessage{Type: TypeHeartbeat, Timestamp: time.Now()}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return nil
}

// SendImageAndBoxes uploads one frame and its full detection sequence. The
// frame is copied into the message, so the caller may reuse its buffer.
func (s *SocketHandler) SendImageAndBoxes(frame []byte, lboxes []vision.Detection) error {
	msg := ImageMessage{
		Type:      TypeImage,
		Timestamp: time.Now(),
		Image:     base64.StdEncoding.EncodeToString(frame),
		Boxes:     lboxes,
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send image: %w", err)
	}
	s.logger.Info("Image sent (%d bytes, %d boxes)", len(frame), len(lboxes))
	return nil
}

// Close performs an orderly websocket shutdown.
func (s *SocketHandler) Close() error {
	deadline := time.Now().Add(time.Second)
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil && err != websocket.ErrCloseSent {
		s.logger.Warning("Failed to send close frame: %v", err)
	}
	return s.conn.Close()
}
