package gateway

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/session"
	"crewdeck/internal/viewers"
	crewdeck_errors "crewdeck/pkg/errors"
	"crewdeck/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// RateLimits caps chatty frame kinds per minute.
type RateLimits struct {
	MaxFocusEvents int
	MaxDragEvents  int
	MaxPingFrames  int
}

var DefaultRateLimits = RateLimits{
	MaxFocusEvents: 120,
	MaxDragEvents:  600,
	MaxPingFrames:  60,
}

type clientRateLimiter struct {
	focusTokens int
	dragTokens  int
	pingTokens  int
	lastRefill  time.Time
	mu          sync.Mutex
}

func newClientRateLimiter() *clientRateLimiter {
	return &clientRateLimiter{
		focusTokens: DefaultRateLimits.MaxFocusEvents,
		dragTokens:  DefaultRateLimits.MaxDragEvents,
		pingTokens:  DefaultRateLimits.MaxPingFrames,
		lastRefill:  time.Now(),
	}
}

func (rl *clientRateLimiter) Allow(op string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.focusTokens = DefaultRateLimits.MaxFocusEvents
		rl.dragTokens = DefaultRateLimits.MaxDragEvents
		rl.pingTokens = DefaultRateLimits.MaxPingFrames
		rl.lastRefill = now
	}

	switch op {
	case "focus":
		if rl.focusTokens > 0 {
			rl.focusTokens--
			return true
		}
	case "drag_start", "drag_by", "drag_end":
		if rl.dragTokens > 0 {
			rl.dragTokens--
			return true
		}
	case "ping":
		if rl.pingTokens > 0 {
			rl.pingTokens--
			return true
		}
	default:
		return true
	}
	return false
}

// Command is a client frame driving a session operation.
type Command struct {
	Op        string             `json:"op"`
	ChannelID string             `json:"channelId,omitempty"`
	ThreadID  string             `json:"threadId,omitempty"`
	MessageID string             `json:"messageId,omitempty"`
	Target    string             `json:"target,omitempty"`
	Viewer    string             `json:"viewer,omitempty"`
	Text      string             `json:"text,omitempty"`
	URL       string             `json:"url,omitempty"`
	Emoji     string             `json:"emoji,omitempty"`
	OptionID  string             `json:"optionId,omitempty"`
	Question  string             `json:"question,omitempty"`
	Options   []string           `json:"options,omitempty"`
	Title     string             `json:"title,omitempty"`
	Fields    []domain.FormField `json:"fields,omitempty"`
	Values    map[string]string  `json:"values,omitempty"`
	Mobile    bool               `json:"mobile,omitempty"`
	Visible   bool               `json:"visible,omitempty"`
	Dx        int                `json:"dx,omitempty"`
	Dy        int                `json:"dy,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

type stateFrame struct {
	Type  string        `json:"type"`
	State session.State `json:"state"`
}

// Client is one websocket connection bound to one session. State pushes are
// coalesced: however many change notifications land between writes, the
// client receives the latest snapshot once.
type Client struct {
	conn        *websocket.Conn
	sess        *session.Session
	send        chan []byte
	stateCh     chan struct{}
	log         *logger.Logger
	uid         string
	rateLimiter *clientRateLimiter
	closeOnce   sync.Once

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, sess *session.Session, log *logger.Logger, uid string) *Client {
	c := &Client{
		conn:        conn,
		sess:        sess,
		send:        make(chan []byte, 64),
		stateCh:     make(chan struct{}, 1),
		log:         log,
		uid:         uid,
		rateLimiter: newClientRateLimiter(),
	}
	sess.OnChange(c.queueState)
	return c
}

func (c *Client) queueState() {
	select {
	case c.stateCh <- struct{}{}:
	default:
	}
}

func (c *Client) run() {
	go c.writePump()
	c.queueState()
	c.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sess.Dispose()
		c.conn.Close()
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Errorf("websocket unexpected close for %s: %v", c.uid, err)
			}
			return
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		if err := c.handleFrame(message); err != nil {
			c.log.Warnf("command from %s failed: %v", c.uid, err)
		}
	}
}

func (c *Client) handleFrame(message []byte) error {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendError("", "malformed frame")
		return err
	}
	if !c.rateLimiter.Allow(cmd.Op) {
		return nil
	}
	if err := c.dispatch(cmd); err != nil {
		c.sendError(cmd.Op, err.Error())
		return err
	}
	return nil
}

func (c *Client) dispatch(cmd Command) error {
	switch cmd.Op {
	case "pick_channel":
		return c.sess.PickChannel(cmd.ChannelID)
	case "open_thread":
		_, err := c.sess.OpenThreadByMessageID(cmd.MessageID)
		return err
	case "open_sidebar_thread":
		return c.sess.OpenThreadFromSidebar(cmd.ThreadID, cmd.ChannelID)
	case "archive_thread":
		return c.sess.ArchiveThread(cmd.ThreadID)
	case "close_thread":
		c.sess.CloseThreadView()
		return nil
	case "popout_thread":
		return c.sess.OpenThreadPopout()
	case "close_floating":
		c.sess.CloseFloatingThread()
		return nil
	case "set_mobile":
		c.sess.SetMobileLayout(cmd.Mobile)
		return nil
	case "set_visible":
		c.sess.SetChannelVisible(cmd.Visible)
		return nil
	case "load_older":
		_, err := c.sess.LoadOlder()
		return err
	case "send_text":
		return c.sess.SendText(target(cmd), cmd.Text)
	case "send_gif":
		return c.sess.SendGif(target(cmd), cmd.URL)
	case "create_poll":
		return c.sess.CreatePoll(target(cmd), cmd.Question, cmd.Options)
	case "create_form":
		return c.sess.CreateForm(target(cmd), cmd.Title, cmd.Fields)
	case "react":
		return c.sess.React(cmd.MessageID, cmd.Emoji)
	case "vote":
		return c.sess.Vote(cmd.MessageID, cmd.OptionID)
	case "submit_form":
		return c.sess.SubmitForm(cmd.MessageID, cmd.Values)
	case "set_reply":
		return c.setReply(cmd)
	case "clear_reply":
		c.clearReply(cmd)
		return nil
	case "focus":
		c.sess.Viewer(viewerKind(cmd.Viewer)).Focus()
		return nil
	case "drag_start":
		c.sess.Viewer(viewers.Floating).StartDrag()
		return nil
	case "drag_by":
		c.sess.Viewer(viewers.Floating).DragBy(cmd.Dx, cmd.Dy)
		return nil
	case "drag_end":
		c.sess.Viewer(viewers.Floating).EndDrag()
		return nil
	case "ping":
		c.enqueue([]byte(`{"type":"pong"}`))
		return nil
	default:
		c.log.Warnf("unknown op %q from %s", cmd.Op, c.uid)
		return nil
	}
}

func (c *Client) setReply(cmd Command) error {
	m, ok := c.findMessage(cmd.MessageID)
	if !ok {
		return crewdeck_errors.ErrNotFound
	}
	if cmd.Viewer == "" {
		c.sess.SetChannelReply(m)
		return nil
	}
	c.sess.Viewer(viewerKind(cmd.Viewer)).SetReply(m)
	return nil
}

func (c *Client) clearReply(cmd Command) {
	if cmd.Viewer == "" {
		c.sess.ClearChannelReply()
		return
	}
	c.sess.Viewer(viewerKind(cmd.Viewer)).ClearReply()
}

// findMessage looks the id up across the feed and the open viewers; reply
// targets always come from something currently on screen.
func (c *Client) findMessage(id string) (domain.Message, bool) {
	if id == "" {
		return domain.Message{}, false
	}
	for _, m := range c.sess.Feed().Messages() {
		if m.ID == id {
			return m, true
		}
	}
	for _, kind := range []viewers.Kind{viewers.Inline, viewers.Mobile, viewers.Floating} {
		for _, m := range c.sess.Viewer(kind).Messages() {
			if m.ID == id {
				return m, true
			}
		}
	}
	return domain.Message{}, false
}

func (c *Client) sendError(op, msg string) {
	buf, err := json.Marshal(errorFrame{Type: "error", Op: op, Error: msg})
	if err != nil {
		return
	}
	c.enqueue(buf)
}

// enqueue drops the frame when the buffer is full or the client already tore
// down; the closed flag and close(send) share the mutex so a late enqueue can
// never hit the closed channel.
func (c *Client) enqueue(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- buf:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.stateCh:
			buf, err := json.Marshal(stateFrame{Type: "state", State: c.sess.State()})
			if err != nil {
				c.log.Errorf("marshal state for %s: %v", c.uid, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func target(cmd Command) session.Target {
	switch cmd.Target {
	case "thread":
		return session.TargetThread
	case "floating":
		return session.TargetFloating
	default:
		return session.TargetChannel
	}
}

func viewerKind(s string) viewers.Kind {
	switch s {
	case "mobile":
		return viewers.Mobile
	case "floating":
		return viewers.Floating
	default:
		return viewers.Inline
	}
}
