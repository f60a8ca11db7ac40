package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher 后台升级通报分发器。
// 入队不阻塞调用方：队列满时丢弃并告警——警报本身已持久化，
// 下游通报失败不允许影响创建路径
type Dispatcher struct {
	escalator Escalator
	queue     chan AlertPayload
	logger    *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once

	obsMu   sync.Mutex
	observe func(result string)
}

// NewDispatcher 创建分发器并启动后台worker。
// escalator为nil时分发器仍可入队，消息直接丢弃
func NewDispatcher(escalator Escalator, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		escalator: escalator,
		queue:     make(chan AlertPayload, queueSize),
		logger:    logger,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// SetObserver 登记通报结果回调（result为ok或failed），给指标用
func (d *Dispatcher) SetObserver(fn func(result string)) {
	d.obsMu.Lock()
	d.observe = fn
	d.obsMu.Unlock()
}

func (d *Dispatcher) report(result string) {
	d.obsMu.Lock()
	fn := d.observe
	d.obsMu.Unlock()
	if fn != nil {
		fn(result)
	}
}

// EnqueueAlert 入队一条警报通报，永不阻塞
func (d *Dispatcher) EnqueueAlert(payload AlertPayload) {
	select {
	case d.queue <- payload:
	default:
		d.logger.Warn("escalation queue full, dropping notification",
			zap.String("alert_id", payload.AlertID))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for payload := range d.queue {
		if d.escalator == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.escalator.Escalate(ctx, payload)
		cancel()

		if err != nil {
			// 通报失败只记录，不重试也不回滚警报
			d.logger.Warn("alert escalation failed",
				zap.String("alert_id", payload.AlertID),
				zap.Error(err))
			d.report("failed")
			continue
		}
		d.report("ok")
	}
}

// Close 停止接收并等待队列排空
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
