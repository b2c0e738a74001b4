package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/transfer"
)

type SessionController struct {
	responder SessionResponder
	upgrader  websocket.Upgrader
}

func NewSessionController(responder SessionResponder) *SessionController {
	return &SessionController{
		responder: responder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// Peers are not browsers; there is no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleSession upgrades to the sync channel and blocks until the session ends.
func (ctrl *SessionController) HandleSession(c *gin.Context) {
	if !ctrl.responder.CheckPin(c.GetHeader(tool.PinHeader)) {
		tool.DefaultLogger.Warnf("[Session] Invalid PIN from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, fastReturnError("Invalid PIN"))
		return
	}
	if ctrl.responder.Busy() {
		c.JSON(http.StatusConflict, fastReturnError("Blocked by another session"))
		return
	}
	conn, err := ctrl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		tool.DefaultLogger.Errorf("[Session] Upgrade failed for %s: %v", c.ClientIP(), err)
		return
	}
	remote := c.ClientIP()
	if err := ctrl.responder.Serve(c.Request.Context(), transfer.NewWSChannel(conn), remote); err != nil {
		tool.DefaultLogger.Debugf("[Session] Session with %s ended: %v", remote, err)
	}
}
