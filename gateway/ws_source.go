package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource 基于 websocket 的推送事件源，断线自动重连。
// 实现 PushSource；消息不做解析，归一化交给 ParsePushEvent。
type WSSource struct {
	Endpoint     string
	Streams      []string
	Dialer       *websocket.Dialer
	ReadTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Log          *zap.Logger

	msgChan chan []byte
	started bool
}

// NewWSSource 创建推送事件源。
func NewWSSource(endpoint string, streams []string, log *zap.Logger) *WSSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSSource{
		Endpoint:     endpoint,
		Streams:      streams,
		Dialer:       websocket.DefaultDialer,
		ReadTimeout:  30 * time.Second,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		Log:          log,
		msgChan:      make(chan []byte, 256),
	}
}

// Next 返回下一条原始消息；首次调用时启动读取循环。
func (s *WSSource) Next(ctx context.Context) ([]byte, error) {
	if !s.started {
		s.started = true
		go s.readLoop(ctx)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.msgChan:
		return msg, nil
	}
}

// readLoop 连接并持续读取；出错时退避重连，直到 ctx 取消。
func (s *WSSource) readLoop(ctx context.Context) {
	backoff := s.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.readOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.Log.Warn("push stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.ReconnectMax {
			backoff = s.ReconnectMax
		}
	}
}

func (s *WSSource) readOnce(ctx context.Context) error {
	u, err := s.streamURL()
	if err != nil {
		return err
	}
	conn, _, err := s.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case s.msgChan <- message:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *WSSource) streamURL() (string, error) {
	if s.Endpoint == "" {
		return "", fmt.Errorf("ws endpoint required")
	}
	u := url.URL{
		Scheme: "wss",
		Host:   strings.TrimPrefix(s.Endpoint, "wss://"),
		Path:   "/stream",
	}
	if len(s.Streams) > 0 {
		q := u.Query()
		q.Set("streams", strings.Join(s.Streams, "/"))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
