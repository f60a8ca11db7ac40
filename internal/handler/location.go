package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/errors"
	"BeaconRelay/pkg/response"
)

// respondError 把领域错误映射为HTTP状态码
func respondError(c *gin.Context, err error) {
	msg := errors.GetMessage(err)
	switch {
	case errors.IsValidation(err):
		response.FailWithStatus(c, http.StatusBadRequest, msg)
	case errors.IsNotFound(err):
		response.FailWithStatus(c, http.StatusNotFound, msg)
	case errors.IsInvalidTransition(err):
		response.FailWithStatus(c, http.StatusConflict, msg)
	case errors.IsAuth(err):
		response.FailWithStatus(c, http.StatusUnauthorized, msg)
	default:
		response.FailWithStatus(c, http.StatusInternalServerError, msg)
	}
}

// UpdateLocation 位置上报的HTTP入口，与WebSocket上报等价
func (h *Handlers) UpdateLocation(c *gin.Context) {
	var fix models.LocationFix
	if err := c.ShouldBindJSON(&fix); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if fix.UserID == 0 {
		response.Fail(c, "missing user id", nil)
		return
	}

	current, err := h.store.RecordFix(c.Request.Context(), fix)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "location updated", current)
}

// CurrentLocation 查询某用户当前位置
func (h *Handlers) CurrentLocation(c *gin.Context) {
	userID := cast.ToUint(c.Param("userId"))
	if userID == 0 {
		response.Fail(c, "invalid user id", nil)
		return
	}

	current, err := h.store.Current(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if current == nil {
		response.FailWithStatus(c, http.StatusNotFound, "no known location for user")
		return
	}
	response.Success(c, "ok", current)
}

// LocationHistory 查询用户轨迹，最新在前
func (h *Handlers) LocationHistory(c *gin.Context) {
	userID := cast.ToUint(c.Param("userId"))
	if userID == 0 {
		response.Fail(c, "invalid user id", nil)
		return
	}
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))

	history, err := h.store.History(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", history)
}

// LocationStats 单用户轨迹统计
func (h *Handlers) LocationStats(c *gin.Context) {
	userID := cast.ToUint(c.Param("userId"))
	if userID == 0 {
		response.Fail(c, "invalid user id", nil)
		return
	}

	stats, err := h.store.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", stats)
}

// NearbyUsers 半径查询：?latitude=&longitude=&radiusKm=&limit=
func (h *Handlers) NearbyUsers(c *gin.Context) {
	lat := cast.ToFloat64(c.Query("latitude"))
	lng := cast.ToFloat64(c.Query("longitude"))
	radiusKm := cast.ToFloat64(c.DefaultQuery("radiusKm", "5"))
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))

	users, err := h.store.UsersWithinRadius(c.Request.Context(), lat, lng, radiusKm, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", users)
}
