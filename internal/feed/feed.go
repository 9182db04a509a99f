package feed

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
	"MediLink/pkg/scheduler"

	"go.uber.org/zap"
)

// Source 警报来源；所有来源都经过 Reconcile
type Source int

const (
	SourcePoll Source = iota // 全量快照
	SourcePush               // 单条推送
	SourceResponder          // 响应接口返回的最新记录
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourcePush:
		return "push"
	default:
		return "responder"
	}
}

// Identity 当前医生，session.Provider 满足
type Identity interface {
	Current() *models.User
}

// PushSource 推送订阅，client.PushSubscriber 满足
type PushSource interface {
	Start(ctx context.Context)
	Close()
}

// Options 轮询间隔为零时取默认值 5s / 30s
type Options struct {
	PollInterval      time.Duration
	BadgePollInterval time.Duration
	RequestTimeout    time.Duration
	Position          geo.Provider
	GeoTimeout        time.Duration
	Lang              string
	// OnNew 新到的未读警报，在锁外调用
	OnNew func(alert *models.EmergencyAlert)
	// OnChange 工作集变化后调用，在锁外调用
	OnChange func()
}

// Banner 可关闭的软错误提示
type Banner struct {
	Kind    errors.Kind
	Message string
	Source  Source
	At      time.Time
}

// Item 视图中的一条警报，Alert 是副本
type Item struct {
	Alert      *models.EmergencyAlert
	Unread     bool
	CanRespond bool
	Patch      *Patch
}

type entry struct {
	alert *models.EmergencyAlert
	patch *Patch
}

// Feed 医生端工作集，按 id 去重，最新在前
type Feed struct {
	api  client.API
	who  Identity
	opts Options

	mu       sync.RWMutex
	order    []string
	entries  map[string]*entry
	unread   int64
	opened   map[string]bool

	// responded 服务端确认过的响应，alertID+医生；旧快照不能让响应按钮重新出现
	responded map[string]bool

	// synced 首个轮询快照已合并；之后轮询里新出现的警报按新警报计
	synced bool

	// seen 出现过的警报 id，每条最多提醒一次
	seen map[string]bool

	banner   *Banner
	position *models.Location

	push  PushSource
	sched *scheduler.Scheduler
	wg    sync.WaitGroup
	now   func() time.Time
}

func New(api client.API, who Identity, opts Options) *Feed {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BadgePollInterval <= 0 {
		opts.BadgePollInterval = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	return &Feed{
		api:     api,
		who:     who,
		opts:    opts,
		entries: make(map[string]*entry),
		opened:  make(map[string]bool),
		now:     time.Now,

		responded: make(map[string]bool),
		seen:      make(map[string]bool),
	}
}

// AttachPush 在 Start 之前调用
func (f *Feed) AttachPush(p PushSource) {
	f.mu.Lock()
	f.push = p
	f.mu.Unlock()
}

func (f *Feed) doctorID() string {
	if f.who == nil {
		return ""
	}
	if u := f.who.Current(); u != nil {
		return u.ID
	}
	return ""
}

// Start 启动轮询和推送；ctx 结束或 Close 时全部停止
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.sched != nil {
		f.mu.Unlock()
		return
	}
	f.sched = scheduler.NewWithContext(ctx)
	sched, push := f.sched, f.push
	f.mu.Unlock()

	sched.EveryNow(f.opts.PollInterval, scheduler.FuncJob(func(ctx context.Context) { _ = f.Refresh(ctx) }))
	sched.EveryNow(f.opts.BadgePollInterval, scheduler.FuncJob(f.refreshBadge))
	if push != nil {
		push.Start(ctx)
	}
}

// Close 停止轮询、关闭推送，并等待未完成的已读请求
func (f *Feed) Close() {
	f.mu.Lock()
	sched, push := f.sched, f.push
	f.mu.Unlock()
	if sched != nil {
		sched.Stop()
	}
	if push != nil {
		push.Close()
	}
	f.wg.Wait()
}

// Refresh 拉取全量列表；失败只显示横幅，保留现有列表
func (f *Feed) Refresh(ctx context.Context) error {
	params := client.ListParams{}
	if loc := f.currentPosition(ctx); loc != nil {
		params.Lat, params.Lng = &loc.Latitude, &loc.Longitude
	}
	rctx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	alerts, err := f.api.ListAlerts(rctx, params)
	if err != nil {
		// 关闭过程中的取消不算失败
		if ctx.Err() != nil {
			return err
		}
		f.raise(SourcePoll, err, i18n.MsgPollFailed)
		logger.Warn("alert poll failed", zap.Error(err))
		return err
	}
	f.clearBanner(SourcePoll)
	f.Reconcile(SourcePoll, alerts...)
	return nil
}

func (f *Feed) refreshBadge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	n, err := f.api.UnreadCount(ctx)
	if err != nil {
		logger.Debug("unread badge poll failed", zap.Error(err))
		return
	}
	f.mu.Lock()
	f.unread = n
	f.mu.Unlock()
	f.changed()
}

// currentPosition 医生位置只在轮询时尝试一次，失败沿用上一次
func (f *Feed) currentPosition(ctx context.Context) *models.Location {
	if f.opts.Position == nil {
		return nil
	}
	if loc := geo.Fetch(ctx, f.opts.Position, f.opts.GeoTimeout); loc != nil {
		f.mu.Lock()
		f.position = loc
		f.mu.Unlock()
		return loc
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.position
}

// Reconcile 唯一的写入路径：按 id 幂等替换。轮询快照整体替换列表，
// 推送和响应结果原位替换或插到最前
func (f *Feed) Reconcile(source Source, alerts ...models.EmergencyAlert) {
	doctor := f.doctorID()
	var fresh []*models.EmergencyAlert

	f.mu.Lock()
	if source == SourcePoll {
		order := make([]string, 0, len(alerts))
		entries := make(map[string]*entry, len(alerts))
		for i := range alerts {
			a := alerts[i].Clone()
			if _, dup := entries[a.ID]; dup {
				continue
			}
			f.noteResponse(a, doctor)
			old := f.entries[a.ID]
			e := &entry{alert: f.withDistance(a, old)}
			if old != nil {
				e.patch = reconcilePatch(old.patch, a, doctor)
			} else if f.synced && !f.seen[a.ID] && f.unreadEntry(e, doctor) {
				// 推送丢失时由轮询补上，和推送路径一致
				f.unread++
				fresh = append(fresh, a.Clone())
			}
			f.seen[a.ID] = true
			entries[a.ID] = e
			order = append(order, a.ID)
		}
		f.order, f.entries = order, entries
		f.synced = true
	} else {
		for i := range alerts {
			a := alerts[i].Clone()
			f.noteResponse(a, doctor)
			if old, ok := f.entries[a.ID]; ok {
				old.alert = f.withDistance(a, old)
				old.patch = reconcilePatch(old.patch, a, doctor)
				continue
			}
			e := &entry{alert: f.withDistance(a, nil)}
			f.entries[a.ID] = e
			f.order = append([]string{a.ID}, f.order...)
			if source == SourcePush && !f.seen[a.ID] && f.unreadEntry(e, doctor) {
				f.unread++
				fresh = append(fresh, a.Clone())
			}
			f.seen[a.ID] = true
		}
	}
	f.mu.Unlock()

	if f.opts.OnNew != nil {
		for _, a := range fresh {
			f.opts.OnNew(a)
		}
	}
	f.changed()
}

// withDistance 推送的记录没有距离时按医生上次位置补算，都没有则沿用旧值
func (f *Feed) withDistance(a *models.EmergencyAlert, old *entry) *models.EmergencyAlert {
	if a.Distance != nil {
		return a
	}
	if f.position != nil {
		a.Distance = a.DistanceKm(f.position.Latitude, f.position.Longitude)
	} else if old != nil && old.alert.Distance != nil {
		d := *old.alert.Distance
		a.Distance = &d
	}
	return a
}

// HandlePush 推送回调
func (f *Feed) HandlePush(ev client.PushEvent) {
	if ev.Alert == nil {
		return
	}
	f.Reconcile(SourcePush, *ev.Alert)
}

// HandlePushError 推送出错不影响轮询
func (f *Feed) HandlePushError(err error) {
	f.raise(SourcePush, err, i18n.MsgPushLost)
}

func (f *Feed) raise(source Source, err error, key string) {
	f.mu.Lock()
	f.banner = &Banner{
		Kind:    errors.KindOf(err),
		Message: i18n.T(f.opts.Lang, key, nil),
		Source:  source,
		At:      f.now(),
	}
	f.mu.Unlock()
	f.changed()
}

func (f *Feed) clearBanner(source Source) {
	f.mu.Lock()
	if f.banner != nil && f.banner.Source == source {
		f.banner = nil
	}
	f.mu.Unlock()
}

// Banner 当前横幅，没有时返回 nil
func (f *Feed) Banner() *Banner {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.banner == nil {
		return nil
	}
	b := *f.banner
	return &b
}

func (f *Feed) Dismiss() {
	f.mu.Lock()
	f.banner = nil
	f.mu.Unlock()
}

// UnreadCount 本地未读计数，不小于零
func (f *Feed) UnreadCount() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// Len 工作集大小
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// IsUnread ACTIVE 且当前医生没有响应（含待确认的响应）
func (f *Feed) IsUnread(id string) bool {
	doctor := f.doctorID()
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[id]
	return ok && f.unreadEntry(e, doctor)
}

func respondedKey(alertID, doctor string) string {
	return alertID + "/" + doctor
}

// noteResponse 记下服务端记录里已有的响应；调用方持有写锁
func (f *Feed) noteResponse(a *models.EmergencyAlert, doctor string) {
	if doctor != "" && a.HasResponded(doctor) {
		f.responded[respondedKey(a.ID, doctor)] = true
	}
}

// hasResponded 服务端记录、已确认的响应或待确认补丁任一成立
func (f *Feed) hasResponded(e *entry, doctor string) bool {
	return e.alert.HasResponded(doctor) || e.patch.holds() || f.responded[respondedKey(e.alert.ID, doctor)]
}

func (f *Feed) unreadEntry(e *entry, doctor string) bool {
	return e.alert.Status == models.AlertStatusActive && !f.hasResponded(e, doctor)
}

func (f *Feed) canRespondEntry(e *entry, doctor string) bool {
	return doctor != "" && !e.alert.Status.Closed() && !f.hasResponded(e, doctor)
}

// CanRespond 医生是否还能对该警报响应
func (f *Feed) CanRespond(id string) bool {
	doctor := f.doctorID()
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[id]
	return ok && f.canRespondEntry(e, doctor)
}

// View 按过滤条件返回视图，保持工作集顺序
func (f *Feed) View(filter Filter) []Item {
	doctor := f.doctorID()
	now := f.now()
	f.mu.RLock()
	defer f.mu.RUnlock()
	items := make([]Item, 0, len(f.order))
	for _, id := range f.order {
		e := f.entries[id]
		if !filter.Match(e.alert, now) {
			continue
		}
		items = append(items, f.item(e, doctor))
	}
	return items
}

func (f *Feed) item(e *entry, doctor string) Item {
	return Item{
		Alert:      e.alert.Clone(),
		Unread:     f.unreadEntry(e, doctor),
		CanRespond: f.canRespondEntry(e, doctor),
		Patch:      e.patch.copy(),
	}
}

// Get 单条警报
func (f *Feed) Get(id string) (Item, bool) {
	doctor := f.doctorID()
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[id]
	if !ok {
		return Item{}, false
	}
	return f.item(e, doctor), true
}

// Open 打开详情；未读时后台标记已读，本地计数减一且不低于零
func (f *Feed) Open(ctx context.Context, id string) (Item, error) {
	doctor := f.doctorID()
	f.mu.Lock()
	e, ok := f.entries[id]
	if !ok {
		f.mu.Unlock()
		return Item{}, errors.WithCode(http.StatusNotFound, "alert not found")
	}
	markRead := f.unreadEntry(e, doctor)
	if markRead && !f.opened[id] {
		f.opened[id] = true
		if f.unread > 0 {
			f.unread--
		}
	}
	it := f.item(e, doctor)
	f.mu.Unlock()

	if markRead {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.RequestTimeout)
			defer cancel()
			if err := f.api.MarkAlertRead(mctx, id); err != nil {
				logger.Debug("mark alert read failed", zap.String("alert_id", id), zap.Error(err))
			}
		}()
	}
	f.changed()
	return it, nil
}

func (f *Feed) changed() {
	if f.opts.OnChange != nil {
		f.opts.OnChange()
	}
}
