package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/readersync/api/models"
	"github.com/moyoez/readersync/pairing"
	"github.com/moyoez/readersync/session"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

const defaultLogLimit = 50

type ControlController struct {
	node NodeControl
}

func NewControlController(node NodeControl) *ControlController {
	return &ControlController{node: node}
}

func (ctrl *ControlController) HandleDevices(c *gin.Context) {
	ctx := c.Request.Context()
	views := models.NewDeviceViews(ctrl.node.Devices(), func(deviceID string) (time.Time, bool) {
		at, ok, err := ctrl.node.LastSyncTime(ctx, deviceID)
		if err != nil {
			tool.DefaultLogger.Warnf("[Control] Last sync lookup for %s failed: %v", deviceID, err)
			return time.Time{}, false
		}
		return at, ok
	})
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (ctrl *ControlController) HandleStatus(c *gin.Context) {
	st, seq := ctrl.node.StatusSeq()
	view := types.ViewOf(st)
	view.Seq = seq
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (ctrl *ControlController) HandleStartDiscovery(c *gin.Context) {
	if err := ctrl.node.StartDiscovery(); err != nil {
		tool.DefaultLogger.Errorf("[Control] Start discovery failed: %v", err)
		c.JSON(http.StatusInternalServerError, syncErrorBody(types.AsSyncError(err)))
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctrl *ControlController) HandleStopDiscovery(c *gin.Context) {
	if err := ctrl.node.StopDiscovery(); err != nil {
		tool.DefaultLogger.Errorf("[Control] Stop discovery failed: %v", err)
		c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSync starts a background sync; progress is read from /status.
func (ctrl *ControlController) HandleSync(c *gin.Context) {
	deviceID := c.Param("deviceId")
	var strategy types.ConflictResolutionStrategy
	if raw := c.Query("strategy"); raw != "" {
		parsed, err := types.ParseStrategy(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, fastReturnError(err.Error()))
			return
		}
		strategy = parsed
	}
	after, err := ctrl.node.StartSync(deviceID, strategy)
	if err != nil {
		se := types.AsSyncError(err)
		code := http.StatusInternalServerError
		if se.Kind == types.ErrKindBusy {
			code = http.StatusConflict
		}
		c.JSON(code, syncErrorBody(se))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": models.SyncAccepted{DeviceID: deviceID, Strategy: strategy, After: after}})
}

func (ctrl *ControlController) HandleCancel(c *gin.Context) {
	if err := ctrl.node.CancelSync(); err != nil {
		c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
		return
	}
	c.Status(http.StatusOK)
}

func (ctrl *ControlController) HandleConflicts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": ctrl.node.PendingConflicts()})
}

func (ctrl *ControlController) HandleResolve(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, fastReturnError("Failed to read request body"))
		return
	}
	req, err := models.ParseResolveRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, fastReturnError(err.Error()))
		return
	}
	switch err := ctrl.node.SubmitResolution(req.Choices); {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, fastReturnError("No active sync"))
	case errors.Is(err, session.ErrNotAwaitingResolution):
		c.JSON(http.StatusConflict, fastReturnError("No conflicts are awaiting resolution"))
	default:
		c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
	}
}

func (ctrl *ControlController) HandleHistory(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, fastReturnError("Invalid limit"))
			return
		}
		limit = n
	}
	entries, err := ctrl.node.SyncLog(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, syncErrorBody(types.AsSyncError(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// HandlePairQR renders the pairing payload of this node as a PNG, or as the
// raw URI when format=uri.
func (ctrl *ControlController) HandlePairQR(c *gin.Context) {
	payload, err := ctrl.node.PairingPayload()
	if err != nil {
		c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
		return
	}
	if c.Query("format") == "uri" {
		uri, err := payload.URI()
		if err != nil {
			c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": uri})
		return
	}
	png, err := pairing.PNG(payload, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fastReturnError(err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
