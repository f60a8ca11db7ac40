package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"BeaconRelay/internal/alerts"
	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/errors"
	ws "BeaconRelay/pkg/websocket"
)

// 入站消息载荷
type authPayload struct {
	UserID   uint   `json:"userId"`
	Token    string `json:"token"`
	UserType string `json:"userType"`
}

type alertActionPayload struct {
	AlertID string `json:"alertId"`
	Notes   string `json:"notes"`
}

type requestLocationPayload struct {
	UserID uint `json:"userId"`
}

// onMessage 入站消息分发。认证是唯一不要求会话的事件
func (r *Registry) onMessage(conn *ws.Connection, raw []byte) {
	var msg ws.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.sendError(conn, ws.MessageTypeError, "invalid message format")
		return
	}

	if msg.Type == ws.MessageTypeAuthenticate {
		r.handleAuthenticate(conn, msg)
		return
	}

	sess := r.session(conn)
	if sess == nil {
		r.sendError(conn, ws.MessageTypeAuthError, "authentication required")
		return
	}

	switch msg.Type {
	case ws.MessageTypeLocationFix:
		r.handleLocationFix(sess, msg)
	case ws.MessageTypePanicAlert:
		r.handlePanicAlert(sess, msg)
	case ws.MessageTypeAcknowledgeAlert:
		r.handleAcknowledge(sess, msg)
	case ws.MessageTypeResolveAlert:
		r.handleResolve(sess, msg)
	case ws.MessageTypeRequestLocation:
		r.handleRequestLocation(sess, msg)
	default:
		r.logger.Debug("unknown message type", zap.String("type", msg.Type))
		r.sendError(conn, ws.MessageTypeError, "unknown message type: "+msg.Type)
	}
}

// handleAuthenticate 认证并编排房间。重复认证是幂等的：
// 先退出旧房间再按新身份加入
func (r *Registry) handleAuthenticate(conn *ws.Connection, msg ws.Message) {
	var payload authPayload
	if err := decodeData(msg.Data, &payload); err != nil {
		r.sendError(conn, ws.MessageTypeAuthError, "invalid authentication payload")
		return
	}

	ctx, cancel := r.opContext()
	defer cancel()

	role, err := r.auth(ctx, payload.UserID, payload.Token, payload.UserType)
	if err != nil {
		r.logger.Warn("authentication rejected",
			zap.Uint("user_id", payload.UserID),
			zap.Error(err))
		r.sendError(conn, ws.MessageTypeAuthError, "authentication failed")
		return
	}

	// 重复认证：退掉旧身份的房间
	if prev := r.session(conn); prev != nil {
		conn.LeaveRoom(UserRoom(prev.UserID))
		if prev.IsOperator() {
			conn.LeaveRoom(OperatorsRoom)
		}
	}

	sess := &Session{
		Conn:     conn,
		UserID:   payload.UserID,
		Role:     role,
		AuthedAt: time.Now(),
	}
	r.hub.BindUser(conn, fmt.Sprintf("%d", payload.UserID))
	conn.JoinRoom(UserRoom(payload.UserID))
	if sess.IsOperator() {
		conn.JoinRoom(OperatorsRoom)
	}
	r.putSession(sess)

	r.reply(conn, ws.MessageTypeAuthenticated, gin.H{
		"userId":   payload.UserID,
		"userType": role,
	})

	// 接警员上线即同步一份未闭环警报
	if sess.IsOperator() {
		active, err := r.engine.Active(ctx, 0)
		if err != nil {
			r.logger.Error("failed to load active alerts", zap.Error(err))
			return
		}
		r.reply(conn, ws.MessageTypeActiveAlerts, active)
	}

	r.logger.Info("session authenticated",
		zap.String("conn_id", conn.ID),
		zap.Uint("user_id", payload.UserID),
		zap.String("role", role))
}

// handleLocationFix 位置上报：落库后回执，并同步给所有接警员
func (r *Registry) handleLocationFix(sess *Session, msg ws.Message) {
	var fix models.LocationFix
	if err := decodeData(msg.Data, &fix); err != nil {
		r.sendError(sess.Conn, ws.MessageTypeLocationError, "invalid location payload")
		return
	}
	fix.UserID = sess.UserID

	ctx, cancel := r.opContext()
	defer cancel()

	current, err := r.store.RecordFix(ctx, fix)
	if err != nil {
		r.sendError(sess.Conn, ws.MessageTypeLocationError, errors.GetMessage(err))
		return
	}
	if r.m != nil {
		r.m.IncLocationFix()
	}

	r.reply(sess.Conn, ws.MessageTypeLocationUpdated, gin.H{
		"userId":    sess.UserID,
		"latitude":  current.Latitude,
		"longitude": current.Longitude,
		"timestamp": current.UpdatedAt.UnixMilli(),
	})

	r.hub.SendToRoom(OperatorsRoom, &ws.Message{
		Type: ws.MessageTypeUserLocationUpdated,
		Data: current,
	})
}

// handlePanicAlert 紧急警报：创建后回执本人，并广播到接警员房间。
// 静默警报一样通知接警员，静默只约束终端表现
func (r *Registry) handlePanicAlert(sess *Session, msg ws.Message) {
	var req alerts.CreateRequest
	if err := decodeData(msg.Data, &req); err != nil {
		r.sendError(sess.Conn, ws.MessageTypeAlertError, "invalid alert payload")
		return
	}
	req.UserID = sess.UserID

	ctx, cancel := r.opContext()
	defer cancel()

	alert, err := r.engine.Create(ctx, req)
	if err != nil {
		r.sendError(sess.Conn, ws.MessageTypeAlertError, errors.GetMessage(err))
		return
	}
	if r.m != nil {
		r.m.IncAlertCreated(alert.AlertType)
	}

	r.reply(sess.Conn, ws.MessageTypeAlertCreated, gin.H{
		"alertId":   alert.ID,
		"status":    alert.Status,
		"priority":  alert.Priority,
		"timestamp": alert.CreatedAt.UnixMilli(),
	})

	r.hub.SendToRoom(OperatorsRoom, &ws.Message{
		Type: ws.MessageTypeNewPanicAlert,
		Data: alert,
	})
}

// handleAcknowledge 接警员确认警报
func (r *Registry) handleAcknowledge(sess *Session, msg ws.Message) {
	r.handleTransition(sess, msg, ws.MessageTypeAlertAcknowledged, r.engine.Acknowledge)
}

// handleResolve 接警员解除警报
func (r *Registry) handleResolve(sess *Session, msg ws.Message) {
	r.handleTransition(sess, msg, ws.MessageTypeAlertResolved, r.engine.Resolve)
}

// handleTransition 状态迁移的公共路径：鉴权、执行、双向广播
func (r *Registry) handleTransition(sess *Session, msg ws.Message, eventType string,
	apply func(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error)) {
	if !sess.IsOperator() {
		r.sendError(sess.Conn, ws.MessageTypeAlertError, "operator role required")
		return
	}

	var payload alertActionPayload
	if err := decodeData(msg.Data, &payload); err != nil {
		r.sendError(sess.Conn, ws.MessageTypeAlertError, "invalid alert action payload")
		return
	}

	ctx, cancel := r.opContext()
	defer cancel()

	alert, err := apply(ctx, payload.AlertID, sess.UserID, payload.Notes)
	if err != nil {
		if r.m != nil && errors.IsInvalidTransition(err) {
			r.m.IncTransitionRejected(eventType)
		}
		r.sendError(sess.Conn, ws.MessageTypeAlertError, errors.GetMessage(err))
		return
	}
	if r.m != nil {
		r.m.IncTransition(alert.Status)
	}

	event := &ws.Message{Type: eventType, Data: alert}
	// 接警员房间与当事用户都要收到
	r.hub.SendToRoom(OperatorsRoom, event)
	r.hub.SendToRoom(UserRoom(alert.UserID), &ws.Message{Type: eventType, Data: alert})
}

// handleRequestLocation 接警员拉取某用户当前位置，只回给发起连接。
// 位置未知不是错误：回location为null的正常应答
func (r *Registry) handleRequestLocation(sess *Session, msg ws.Message) {
	if !sess.IsOperator() {
		r.sendError(sess.Conn, ws.MessageTypeLocationError, "operator role required")
		return
	}

	var payload requestLocationPayload
	if err := decodeData(msg.Data, &payload); err != nil || payload.UserID == 0 {
		r.sendError(sess.Conn, ws.MessageTypeLocationError, "invalid location request")
		return
	}

	ctx, cancel := r.opContext()
	defer cancel()

	current, err := r.store.Current(ctx, payload.UserID)
	if err != nil {
		r.sendError(sess.Conn, ws.MessageTypeLocationError, errors.GetMessage(err))
		return
	}
	if current == nil {
		r.reply(sess.Conn, ws.MessageTypeUserLocation, gin.H{
			"userId":   payload.UserID,
			"location": nil,
			"message":  "no location data available",
		})
		return
	}

	r.reply(sess.Conn, ws.MessageTypeUserLocation, gin.H{
		"userId":   payload.UserID,
		"location": current,
	})
}

// reply 回执发起连接，失败只记日志
func (r *Registry) reply(conn *ws.Connection, msgType string, data interface{}) {
	if err := conn.SendMessage(&ws.Message{Type: msgType, Data: data}); err != nil {
		r.logger.Warn("failed to send reply",
			zap.String("conn_id", conn.ID),
			zap.String("type", msgType),
			zap.Error(err))
	}
}

// sendError 给发起连接回错误事件
func (r *Registry) sendError(conn *ws.Connection, msgType, message string) {
	_ = conn.SendMessage(&ws.Message{
		Type: msgType,
		Data: gin.H{"message": message},
	})
}

// decodeData 把泛型的Data字段还原成具体载荷
func decodeData(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
