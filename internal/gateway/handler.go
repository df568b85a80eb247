// Package gateway is the client-facing edge of the sync engine: a websocket
// surface carrying command frames in and coalesced state snapshots out, plus
// the multipart upload route.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"crewdeck/internal/auth"
	"crewdeck/internal/config"
	"crewdeck/internal/middleware"
	"crewdeck/internal/session"
	"crewdeck/internal/store"
	"crewdeck/internal/transport/httpdto"
	"crewdeck/internal/uploads"
	crewdeck_errors "crewdeck/pkg/errors"
	"crewdeck/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler owns the live client registry. One session per connection; a new
// connection for the same uid replaces the old one.
type Handler struct {
	st        store.Store
	transfer  uploads.Transfer
	previewer uploads.Previewer
	authn     *auth.Authenticator
	log       *logger.Logger
	cfg       config.SyncConfig

	mu      sync.Mutex
	clients map[string]*Client
}

func NewHandler(st store.Store, transfer uploads.Transfer, previewer uploads.Previewer, authn *auth.Authenticator, log *logger.Logger, cfg config.SyncConfig) *Handler {
	return &Handler{
		st:        st,
		transfer:  transfer,
		previewer: previewer,
		authn:     authn,
		log:       log,
		cfg:       cfg,
		clients:   make(map[string]*Client),
	}
}

// Connect upgrades the request and runs the client until disconnect.
func (h *Handler) Connect(c *gin.Context) {
	claims, err := h.authn.Parse(extractToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	serverID := c.Query("server")
	if serverID == "" {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("missing server id", "INVALID_REQUEST"))
		return
	}

	user := session.User{UID: claims.UID, DisplayName: claims.DisplayName, PhotoURL: claims.PhotoURL}
	sess, err := session.New(context.Background(), h.st, h.transfer, h.previewer, h.log, user, h.cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "SESSION_FAILED"))
		return
	}
	if err := sess.Start(serverID); err != nil {
		sess.Dispose()
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "SESSION_FAILED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Dispose()
		h.log.Errorf("websocket upgrade for %s failed: %v", claims.UID, err)
		return
	}

	client := newClient(conn, sess, h.log, claims.UID)
	h.register(claims.UID, client)
	h.log.Infof("client %s connected to server %s", claims.UID, serverID)

	client.run()

	h.unregister(claims.UID, client)
	client.close()
	h.log.Infof("client %s disconnected", claims.UID)
}

func (h *Handler) register(uid string, c *Client) {
	h.mu.Lock()
	prev := h.clients[uid]
	h.clients[uid] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

func (h *Handler) unregister(uid string, c *Client) {
	h.mu.Lock()
	if h.clients[uid] == c {
		delete(h.clients, uid)
	}
	h.mu.Unlock()
}

func (h *Handler) clientFor(uid string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[uid]
	return c, ok
}

// Upload receives a multipart batch and hands it to the caller's live
// session. Uploads need an open websocket; the progress entries and the
// resulting file messages flow back over it.
func (h *Handler) Upload(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	client, ok := h.clientFor(claims.UID)
	if !ok {
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("no live session", "NO_SESSION"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid multipart form", "INVALID_REQUEST"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("no files", "INVALID_REQUEST"))
		return
	}

	files := make([]uploads.File, 0, len(headers))
	closers := make([]func() error, 0, len(headers))
	defer func() {
		for _, cl := range closers {
			cl()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
			return
		}
		closers = append(closers, f.Close)
		files = append(files, uploads.File{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}

	if err := client.sess.UploadFiles(target(Command{Target: c.Query("target")}), files); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, crewdeck_errors.ErrNoActiveChannel) || errors.Is(err, crewdeck_errors.ErrNoActiveThread) || errors.Is(err, crewdeck_errors.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), "UPLOAD_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"count": len(files)}))
}

// Token mints a development access token. Identity normally comes from the
// surrounding suite's auth service.
func (h *Handler) Token(c *gin.Context) {
	var req struct {
		UID         string `json:"uid" binding:"required"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoURL"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	token, err := h.authn.Issue(req.UID, req.DisplayName, req.PhotoURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"token": token}))
}

// Shutdown closes every live client.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
