package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"BeaconRelay/internal/alerts"
	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/response"
)

type alertActionRequest struct {
	OperatorID uint   `json:"operatorId"`
	Notes      string `json:"notes"`
}

// CreatePanicAlert 紧急警报的HTTP入口，与WebSocket入口等价
func (h *Handlers) CreatePanicAlert(c *gin.Context) {
	var req alerts.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}

	alert, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, "alert created", alert)
}

// ActiveAlerts 未闭环警报列表
func (h *Handlers) ActiveAlerts(c *gin.Context) {
	limit := cast.ToInt(c.DefaultQuery("limit", "100"))
	list, err := h.engine.Active(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", list)
}

// AlertByID 按id查询警报
func (h *Handlers) AlertByID(c *gin.Context) {
	alert, err := h.engine.ByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", alert)
}

// AlertsByUser 某用户的警报列表
func (h *Handlers) AlertsByUser(c *gin.Context) {
	userID := cast.ToUint(c.Param("userId"))
	if userID == 0 {
		response.Fail(c, "invalid user id", nil)
		return
	}
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))

	list, err := h.engine.ByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", list)
}

// SearchAlerts 组合条件检索：?userId=&status=&priority=&alertType=&startDate=&endDate=&limit=
func (h *Handlers) SearchAlerts(c *gin.Context) {
	filter := alerts.SearchFilter{
		Status:    c.Query("status"),
		AlertType: c.Query("alertType"),
		Limit:     cast.ToInt(c.Query("limit")),
	}
	if v := c.Query("userId"); v != "" {
		userID := cast.ToUint(v)
		filter.UserID = &userID
	}
	if v := c.Query("priority"); v != "" {
		priority := cast.ToInt(v)
		filter.Priority = &priority
	}
	if v := c.Query("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Fail(c, "invalid startDate", nil)
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Fail(c, "invalid endDate", nil)
			return
		}
		filter.EndDate = &t
	}

	list, err := h.engine.Search(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", list)
}

// AlertStats 警报聚合统计
func (h *Handlers) AlertStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", stats)
}

// AcknowledgeAlert 接警员确认警报
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	h.applyTransition(c, h.engine.Acknowledge)
}

// ResolveAlert 接警员解除警报
func (h *Handlers) ResolveAlert(c *gin.Context) {
	h.applyTransition(c, h.engine.Resolve)
}

// MarkResponding 标记现场处置中
func (h *Handlers) MarkResponding(c *gin.Context) {
	h.applyTransition(c, h.engine.MarkResponding)
}

// MarkFalseAlarm 误报裁定
func (h *Handlers) MarkFalseAlarm(c *gin.Context) {
	h.applyTransition(c, h.engine.MarkFalseAlarm)
}

func (h *Handlers) applyTransition(c *gin.Context, apply func(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error)) {
	var req alertActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}

	alert, err := apply(c.Request.Context(), c.Param("id"), req.OperatorID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", alert)
}

// AssignOperator 显式改派接警员
func (h *Handlers) AssignOperator(c *gin.Context) {
	var req struct {
		OperatorID uint `json:"operatorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}

	alert, err := h.engine.AssignOperator(c.Request.Context(), c.Param("id"), req.OperatorID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", alert)
}

// AppendNotes 追加接警员备注
func (h *Handlers) AppendNotes(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}

	alert, err := h.engine.AppendNotes(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, "ok", alert)
}
