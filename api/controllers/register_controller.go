package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/readersync/api/models"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

type RegisterController struct {
	peers        PeerRegistry
	capabilities []string
	pinRequired  bool
}

func NewRegisterController(peers PeerRegistry, capabilities []string, pinRequired bool) *RegisterController {
	return &RegisterController{
		peers:        peers,
		capabilities: capabilities,
		pinRequired:  pinRequired,
	}
}

func (ctrl *RegisterController) HandleRegister(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		tool.DefaultLogger.Errorf("Failed to read register request body: %v", err)
		c.JSON(http.StatusBadRequest, fastReturnError("Failed to read request body"))
		return
	}

	incoming, err := models.ParseAnnounce(body)
	if err != nil {
		tool.DefaultLogger.Errorf("Failed to parse register request: %v", err)
		tool.DefaultLogger.Debugf("Register body: %s", tool.BytesToString(body))
		c.JSON(http.StatusBadRequest, fastReturnError("Invalid request body"))
		return
	}

	remoteHost := c.ClientIP()
	tool.DefaultLogger.Debugf("Received register request from %s (%s) at %s", incoming.DeviceName, incoming.DeviceID, remoteHost)
	ctrl.peers.Register(incoming, remoteHost)

	c.JSON(http.StatusOK, types.RegisterResponse{Status: "ok", Device: *ctrl.peers.Self()})
}

func (ctrl *RegisterController) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, models.NodeInfo{
		Device:       *ctrl.peers.Self(),
		Capabilities: ctrl.capabilities,
		PinRequired:  ctrl.pinRequired,
	})
}
