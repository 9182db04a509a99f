// Package trigger 患者端一键求救：倒计时、定位、提交，以及未登录时的访客分支
package trigger

import (
	"context"
	"net/http"
	"sync"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/geo"
	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

type State string

const (
	StateIdle                State = "IDLE"
	StateCountingDown        State = "COUNTING_DOWN"
	StateSubmitting          State = "SUBMITTING"
	StateSent                State = "SENT"
	StateFailed              State = "FAILED"
	StateAwaitingGuestChoice State = "AWAITING_GUEST_CHOICE"
)

// Identity 当前登录用户，session.Provider 满足
type Identity interface {
	Current() *models.User
}

// Dialer 拨打 tel: 链接
type Dialer interface {
	Dial(ctx context.Context, uri string) error
}

type Options struct {
	Countdown       int
	TickInterval    time.Duration
	GeoTimeout      time.Duration
	SubmitTimeout   time.Duration
	EmergencyNumber string
	Lang            string
	Position        geo.Provider
	Dialer          Dialer
	// OnTick 每次倒计时减一后调用，参数为剩余次数
	OnTick func(remaining int)
	// OnState 状态变化后调用
	OnState func(State)
}

// Trigger 状态机，不做持久化；重启总是从 IDLE 开始
type Trigger struct {
	api  client.API
	who  Identity
	opts Options

	mu        sync.Mutex
	state     State
	remaining int
	draft     models.AlertSubmission
	guest     bool
	idemKey   string
	alertID   string
	err       error
	stop      context.CancelFunc
	gen       uint64

	wg  sync.WaitGroup
	now func() time.Time
}

func New(api client.API, who Identity, opts Options) *Trigger {
	if opts.Countdown <= 0 {
		opts.Countdown = 5
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = 8 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.EmergencyNumber == "" {
		opts.EmergencyNumber = "911"
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	return &Trigger{api: api, who: who, opts: opts, state: StateIdle, now: time.Now}
}

func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining 倒计时剩余次数，不在倒计时时为零
func (t *Trigger) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// AlertID 最近一次成功提交的服务端 id
func (t *Trigger) AlertID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alertID
}

// Err 最近一次失败
func (t *Trigger) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Trigger) authenticated() bool {
	return t.who != nil && t.who.Current() != nil
}

// idle 可以开始新一轮的状态
func (s State) idle() bool {
	return s == StateIdle || s == StateSent || s == StateFailed
}

// setState 调用方持有锁；返回需要在锁外通知的回调
func (t *Trigger) setState(s State) func() {
	t.state = s
	if t.opts.OnState == nil {
		return func() {}
	}
	return func() { t.opts.OnState(s) }
}

// Trigger 开始一次求救。已登录且 immediate 时进入倒计时，归零后自动提交；
// 已登录但非 immediate 时保持 IDLE，由调用方填写后调用 Submit；
// 未登录时进入 AWAITING_GUEST_CHOICE，只能显式选择拨号或访客提交
func (t *Trigger) Trigger(ctx context.Context, immediate bool, draft models.AlertSubmission) (State, error) {
	t.mu.Lock()
	if !t.state.idle() {
		s := t.state
		t.mu.Unlock()
		return s, errors.Rejected(http.StatusConflict, "alert already in progress")
	}
	t.draft, t.guest, t.err = draft, false, nil
	t.idemKey = client.NewIdempotencyKey()

	if !t.authenticated() {
		notify := t.setState(StateAwaitingGuestChoice)
		t.mu.Unlock()
		notify()
		return StateAwaitingGuestChoice, nil
	}
	if !immediate {
		notify := t.setState(StateIdle)
		t.mu.Unlock()
		notify()
		return StateIdle, nil
	}

	cctx, stop := context.WithCancel(ctx)
	t.gen++
	gen := t.gen
	t.stop = stop
	t.remaining = t.opts.Countdown
	notify := t.setState(StateCountingDown)
	t.mu.Unlock()
	notify()

	located := make(chan *models.Location, 1)
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		located <- geo.Fetch(cctx, t.opts.Position, t.opts.GeoTimeout)
	}()
	go t.countdown(ctx, cctx, gen, located)
	return StateCountingDown, nil
}

// countdown 每个 tick 减一；取消与归零在锁内裁决，取消之后绝不提交
func (t *Trigger) countdown(parent, cctx context.Context, gen uint64, located <-chan *models.Location) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cctx.Done():
			t.abort(gen)
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.gen != gen || t.state != StateCountingDown {
			t.mu.Unlock()
			return
		}
		t.remaining--
		remaining := t.remaining
		var notify func()
		if remaining <= 0 {
			notify = t.setState(StateSubmitting)
		}
		t.mu.Unlock()

		if t.opts.OnTick != nil {
			t.opts.OnTick(remaining)
		}
		if remaining > 0 {
			continue
		}
		notify()
		break
	}

	// 归零时定位还没回来就不带位置提交
	var loc *models.Location
	select {
	case loc = <-located:
	default:
		logger.Debug("countdown finished before location fix")
	}
	t.mu.Lock()
	t.stop()
	sub := t.draft
	t.mu.Unlock()
	sub.Location = loc

	// 提交不受取消影响
	_, _ = t.submit(context.WithoutCancel(parent), sub, false)
}

// abort ctx 结束或 Cancel 后回到 IDLE
func (t *Trigger) abort(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.state != StateCountingDown {
		t.mu.Unlock()
		return
	}
	t.remaining = 0
	notify := t.setState(StateIdle)
	t.mu.Unlock()
	notify()
}

// Cancel 只在倒计时中生效；开始提交后不能取消
func (t *Trigger) Cancel() bool {
	t.mu.Lock()
	if t.state != StateCountingDown {
		t.mu.Unlock()
		return false
	}
	t.gen++
	t.stop()
	t.remaining = 0
	notify := t.setState(StateIdle)
	t.mu.Unlock()
	notify()
	logger.Info("alert countdown cancelled")
	return true
}

// Submit 已登录用户直接提交，不经过倒计时；定位尝试一次
func (t *Trigger) Submit(ctx context.Context, draft models.AlertSubmission) (string, error) {
	t.mu.Lock()
	if !t.state.idle() {
		s := t.state
		t.mu.Unlock()
		return "", errors.Rejected(http.StatusConflict, "alert already in progress").WithContext("state", string(s))
	}
	if !t.authenticated() {
		notify := t.setState(StateAwaitingGuestChoice)
		t.draft, t.idemKey = draft, client.NewIdempotencyKey()
		t.mu.Unlock()
		notify()
		return "", errors.WithCode(http.StatusUnauthorized, i18n.MsgGuestChoice)
	}
	t.draft, t.guest, t.err = draft, false, nil
	t.idemKey = client.NewIdempotencyKey()
	t.mu.Unlock()

	if draft.Location == nil {
		draft.Location = geo.Fetch(ctx, t.opts.Position, t.opts.GeoTimeout)
	}
	return t.submit(ctx, draft, false)
}

// SubmitAsGuest 访客显式确认后提交；姓名电话不合法时就地报错，不发请求
func (t *Trigger) SubmitAsGuest(ctx context.Context, guest models.GuestInfo) (string, error) {
	t.mu.Lock()
	if t.state != StateAwaitingGuestChoice {
		t.mu.Unlock()
		return "", errors.Rejected(http.StatusConflict, "no guest choice pending")
	}
	sub := t.draft
	t.mu.Unlock()

	sub.Guest = &guest
	sub.Normalize()
	if err := sub.Validate(true); err != nil {
		return "", err
	}
	if sub.Location == nil {
		sub.Location = geo.Fetch(ctx, t.opts.Position, t.opts.GeoTimeout)
	}

	t.mu.Lock()
	if t.state != StateAwaitingGuestChoice {
		t.mu.Unlock()
		return "", errors.Rejected(http.StatusConflict, "no guest choice pending")
	}
	t.draft, t.guest = sub, true
	t.mu.Unlock()
	return t.submit(ctx, sub, true)
}

// EscalateToPhone 返回紧急电话的 tel: 链接；配置了 Dialer 时直接拨出。
// 在等待访客选择或提交失败后都可用
func (t *Trigger) EscalateToPhone(ctx context.Context) (string, error) {
	uri := "tel:" + t.opts.EmergencyNumber
	t.mu.Lock()
	var notify func()
	if t.state == StateAwaitingGuestChoice {
		notify = t.setState(StateIdle)
	}
	t.mu.Unlock()
	if notify != nil {
		notify()
	}
	if t.opts.Dialer != nil {
		if err := t.opts.Dialer.Dial(ctx, uri); err != nil {
			logger.Warn("emergency dial failed", zap.String("uri", uri), zap.Error(err))
			return uri, errors.Transient(err, i18n.MsgAlertSubmitFailed).WithContext("Number", t.opts.EmergencyNumber)
		}
	}
	logger.Info("escalated to emergency phone", zap.String("uri", uri))
	return uri, nil
}

// Dismiss 放弃访客选择
func (t *Trigger) Dismiss() {
	t.mu.Lock()
	if t.state != StateAwaitingGuestChoice {
		t.mu.Unlock()
		return
	}
	notify := t.setState(StateIdle)
	t.mu.Unlock()
	notify()
}

// Retry 失败后用同一个幂等键重提上一次的内容，服务端已创建时只会回放结果
func (t *Trigger) Retry(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state != StateFailed {
		s := t.state
		t.mu.Unlock()
		return "", errors.Rejected(http.StatusConflict, "nothing to retry").WithContext("state", string(s))
	}
	sub, guest := t.draft, t.guest
	t.mu.Unlock()
	return t.submit(ctx, sub, guest)
}

// submit 时间戳总由这里设置，调用方传入的值不被信任
func (t *Trigger) submit(ctx context.Context, sub models.AlertSubmission, guest bool) (string, error) {
	sub.Timestamp = t.now()
	sub.Normalize()
	if !guest {
		sub.Guest = nil
	}

	t.mu.Lock()
	t.draft = sub
	key := t.idemKey
	notify := t.setState(StateSubmitting)
	t.mu.Unlock()
	notify()

	sctx, cancel := context.WithTimeout(ctx, t.opts.SubmitTimeout)
	defer cancel()
	alert, err := t.api.SubmitAlert(sctx, &sub, key)
	if err != nil {
		return "", t.fail(err)
	}

	t.mu.Lock()
	t.alertID, t.err = alert.ID, nil
	notify = t.setState(StateSent)
	t.mu.Unlock()
	notify()
	logger.Info("alert submitted",
		zap.String("alert_id", alert.ID),
		zap.Bool("guest", guest),
		zap.Bool("located", sub.Location != nil))
	return alert.ID, nil
}

// fail 字段错误原样返回，其余都按可重试处理并提示拨打紧急电话
func (t *Trigger) fail(cause error) error {
	var err error
	if errors.IsKind(cause, errors.KindValidation) {
		err = cause
	} else {
		err = errors.Transient(cause, i18n.MsgAlertSubmitFailed).WithContext("Number", t.opts.EmergencyNumber)
	}
	t.mu.Lock()
	t.err = err
	notify := t.setState(StateFailed)
	t.mu.Unlock()
	notify()
	logger.Warn("alert submission failed", zap.Error(cause))
	return err
}

// Message 把本包返回的错误翻译成用户可见文本
func (t *Trigger) Message(err error) string {
	e, ok := errors.As(err)
	if !ok {
		return i18n.T(t.opts.Lang, i18n.MsgAlertSubmitFailed, map[string]interface{}{"Number": t.opts.EmergencyNumber})
	}
	data := map[string]interface{}{"Field": e.Field, "Number": t.opts.EmergencyNumber}
	for _, kv := range e.Context {
		data[kv.Key] = kv.Value
	}
	return i18n.T(t.opts.Lang, e.Message, data)
}

// CountdownMessage 倒计时提示
func (t *Trigger) CountdownMessage(remaining int) string {
	return i18n.T(t.opts.Lang, i18n.MsgAlertCountdown, map[string]interface{}{"Remaining": remaining})
}

// Close 取消倒计时并等待后台协程；进行中的提交会完成
func (t *Trigger) Close() {
	t.Cancel()
	t.wg.Wait()
}
