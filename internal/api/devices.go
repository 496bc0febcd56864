package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/config"
	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/meter"
	"github.com/septivank/water-meter-relay/internal/repository"
	"github.com/septivank/water-meter-relay/tools/timeparser"
)

// DeviceView is one owned device as shown on the status page
type DeviceView struct {
	DeviceID     string  `json:"device_id"`
	Name         *string `json:"name,omitempty"`
	PulseToLiter float64 `json:"pulse_to_liter"`
	LastSeen     *string `json:"last_seen"`
	Online       bool    `json:"online"`
}

// LogView is one stored reading
type LogView struct {
	DeviceID  string  `json:"device_id"`
	Count     int64   `json:"count"`
	Liters    float64 `json:"liters"`
	Timestamp string  `json:"timestamp"`
}

// DeviceHandler serves the caller's devices and their latest readings
type DeviceHandler struct {
	catalog   repository.Catalog
	threshold time.Duration
	logLimit  int
	logger    *zap.Logger
	now       func() time.Time
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(catalog repository.Catalog, cfg config.MeterConfig, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		catalog:   catalog,
		threshold: time.Duration(cfg.OnlineThresholdSeconds) * time.Second,
		logLimit:  cfg.RecentLogLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// List handles GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx := c.Request.Context()

	devices, err := h.catalog.DevicesOwnedBy(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("failed to list devices", zap.Error(err), zap.String("user_id", identity.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}

	now := h.now()
	views := make([]DeviceView, 0, len(devices))
	pks := make([]int64, 0, len(devices))
	byPK := make(map[int64]string, len(devices))
	for _, d := range devices {
		views = append(views, deviceView(d, now, h.threshold))
		pks = append(pks, d.ID)
		byPK[d.ID] = d.DeviceID
	}

	logs := []LogView{}
	if len(pks) > 0 {
		recent, err := h.catalog.RecentLogs(ctx, pks, h.logLimit)
		if err != nil {
			h.logger.Error("failed to read recent logs", zap.Error(err), zap.String("user_id", identity.UserID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read logs"})
			return
		}
		for _, l := range recent {
			logs = append(logs, LogView{
				DeviceID:  byPK[l.DevicePK],
				Count:     l.Count,
				Liters:    l.Liters,
				Timestamp: timeparser.FormatISO8601(l.CreatedAt),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"devices": views, "logs": logs})
}

func deviceView(d db.Device, now time.Time, threshold time.Duration) DeviceView {
	view := DeviceView{
		DeviceID:     d.DeviceID,
		Name:         d.Name,
		PulseToLiter: d.PulseToLiter,
		Online:       meter.IsOnline(d.LastSeen, now, threshold),
	}
	if d.LastSeen != nil {
		ts := timeparser.FormatISO8601(*d.LastSeen)
		view.LastSeen = &ts
	}
	return view
}
