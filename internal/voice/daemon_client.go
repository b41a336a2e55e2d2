package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DaemonClientConfig holds configuration for the speech daemon client.
type DaemonClientConfig struct {
	// URL is the daemon's WebSocket endpoint.
	URL string

	// ReconnectDelay is the wait between reconnection attempts.
	ReconnectDelay time.Duration

	// MaxReconnects caps reconnection attempts (0 = infinite).
	MaxReconnects int

	// Voice is the TTS voice ID sent with speak requests.
	Voice string
}

// DefaultDaemonClientConfig returns production defaults.
func DefaultDaemonClientConfig() DaemonClientConfig {
	return DaemonClientConfig{
		URL:            "ws://127.0.0.1:8765/ws/speech",
		ReconnectDelay: 5 * time.Second,
		MaxReconnects:  10,
		Voice:          "af_sky",
	}
}

// daemonMessage is the daemon's wire format, both directions.
type daemonMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	Text      string  `json:"text,omitempty"`
	Voice     string  `json:"voice,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// DaemonClient connects to the local speech daemon over WebSocket. It is
// both a TranscriptSource (finalized transcripts, activation events) and a
// SpeechSink (speak requests).
type DaemonClient struct {
	mu      sync.Mutex
	config  DaemonClientConfig
	conn    *websocket.Conn
	logger  zerolog.Logger
	cancel  context.CancelFunc
	running bool

	utterances  chan Utterance
	activations chan Activation
}

// NewDaemonClient creates a client; Connect starts it.
func NewDaemonClient(cfg DaemonClientConfig, logger zerolog.Logger) *DaemonClient {
	if cfg.URL == "" {
		cfg = DefaultDaemonClientConfig()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultDaemonClientConfig().ReconnectDelay
	}
	return &DaemonClient{
		config:      cfg,
		logger:      logger.With().Str("component", "daemon-client").Logger(),
		utterances:  make(chan Utterance, 16),
		activations: make(chan Activation, 16),
	}
}

// Connect dials the daemon and starts the read loop with reconnection.
func (c *DaemonClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("daemon client: already running")
	}
	c.running = true
	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.dial(runCtx)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}
	c.setConn(conn)

	go c.readLoop(runCtx)
	return nil
}

func (c *DaemonClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("daemon client: dial %s: %w", c.config.URL, err)
	}
	c.logger.Info().Str("url", c.config.URL).Msg("connected to speech daemon")
	return conn, nil
}

func (c *DaemonClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// readLoop consumes daemon messages, reconnecting on failure until the
// context ends or the reconnect budget is spent.
func (c *DaemonClient) readLoop(ctx context.Context) {
	defer close(c.utterances)
	defer close(c.activations)

	reconnects := 0
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.config.MaxReconnects > 0 && reconnects >= c.config.MaxReconnects {
				c.logger.Error().Int("attempts", reconnects).Msg("reconnect budget spent, giving up")
				return
			}
			reconnects++
			c.logger.Warn().Err(err).Int("attempt", reconnects).Msg("daemon connection lost, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.ReconnectDelay):
			}
			newConn, dialErr := c.dial(ctx)
			if dialErr != nil {
				continue
			}
			c.setConn(newConn)
			continue
		}
		reconnects = 0
		c.handleMessage(data)
	}
}

func (c *DaemonClient) handleMessage(data []byte) {
	var msg daemonMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("undecodable daemon message")
		return
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(0, int64(msg.Timestamp*float64(time.Second)))
	}

	switch msg.Type {
	case "transcript":
		select {
		case c.utterances <- Utterance{SessionID: msg.SessionID, Text: msg.Text, Timestamp: ts}:
		default:
			// A full buffer means the orchestrator is stuck; dropping the
			// oldest would reorder, so drop the newest and log it.
			c.logger.Warn().Str("text", msg.Text).Msg("utterance dropped, buffer full")
		}
	case "activation":
		c.emitActivation(Activation{SessionID: msg.SessionID, Kind: ActivationStart, Timestamp: ts})
	case "deactivation", "barge_in":
		c.emitActivation(Activation{SessionID: msg.SessionID, Kind: ActivationStop, Timestamp: ts})
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("ignoring daemon message")
	}
}

func (c *DaemonClient) emitActivation(a Activation) {
	select {
	case c.activations <- a:
	default:
		c.logger.Warn().Str("kind", string(a.Kind)).Msg("activation dropped, buffer full")
	}
}

// Utterances implements TranscriptSource.
func (c *DaemonClient) Utterances() <-chan Utterance {
	return c.utterances
}

// Activations implements TranscriptSource.
func (c *DaemonClient) Activations() <-chan Activation {
	return c.activations
}

// Say implements SpeechSink. Failures are returned for logging but the
// caller treats them as non-fatal.
func (c *DaemonClient) Say(ctx context.Context, sessionID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("daemon client: not connected")
	}

	msg := daemonMessage{
		Type:      "speak",
		SessionID: sessionID,
		Text:      text,
		Voice:     c.config.Voice,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("daemon client: marshal speak request: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("daemon client: send speak request: %w", err)
	}
	return nil
}

// Close implements TranscriptSource.
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
