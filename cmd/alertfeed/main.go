// alertfeed 医生端控制台：登录后实时接收警报，可打开详情和响应
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/feed"
	"MediLink/internal/geo"
	"MediLink/internal/models"
	"MediLink/internal/responder"
	"MediLink/internal/session"
	"MediLink/pkg/cache"
	"MediLink/pkg/config"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"
	"MediLink/pkg/notification"
	"MediLink/pkg/util"

	"go.uber.org/zap"
)

const tokenFile = "session.token"

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	email := flag.String("email", util.GetEnv("MEDILINK_EMAIL"), "doctor account email")
	password := flag.String("password", util.GetEnv("MEDILINK_PASSWORD"), "doctor account password")
	lang := flag.String("lang", cfg.DefaultLang, "message language")
	lat := flag.Float64("lat", 0, "doctor latitude, used for distances")
	lng := flag.Float64("lng", 0, "doctor longitude, used for distances")
	quiet := flag.Bool("quiet", false, "no terminal bell on new alerts")
	flag.Parse()

	// 控制台输出给医生看，日志只写文件
	logCfg := cfg.Log
	if logCfg.Filename == "" {
		logCfg.Filename = "alertfeed.log"
	}
	logCfg.Console = false
	if err := logger.Init(logCfg); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := cache.NewCache(cfg.Cache)
	if err != nil {
		local = cache.NewGoCache(cfg.Cache.Local)
	}
	defer local.Close()

	api := client.New(cfg.Client)
	api.SetLanguage(*lang)
	sess := session.NewProvider(api, local)

	user, err := signIn(ctx, sess, cfg.Client.CacheDir, *email, *password)
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(*lang, cfg, err))
		os.Exit(1)
	}
	saveToken(cfg.Client.CacheDir, api.Token())
	fmt.Printf("Signed in as %s (%s)\n", user.Name, user.Role)

	var position geo.Provider
	if *lat != 0 || *lng != 0 {
		position = geo.NewCached(geo.Static{Latitude: *lat, Longitude: *lng}, local, cfg.Alert.GeoMaxAge)
	}

	term := notification.NewTerminal(os.Stdout, !*quiet)
	dispatcher := notification.NewDispatcher(term)
	dispatcher.RequestPermissions(ctx)

	f := feed.New(api, sess, feed.Options{
		PollInterval:      cfg.Alert.PollInterval,
		BadgePollInterval: cfg.Alert.BadgePollInterval,
		RequestTimeout:    cfg.Client.RequestTimeout,
		Position:          position,
		GeoTimeout:        cfg.Alert.GeoTimeout,
		Lang:              *lang,
		OnNew: func(a *models.EmergencyAlert) {
			title, body := a.Summary()
			dispatcher.Dispatch(ctx, notification.Message{
				Title:  title,
				Body:   body + " [" + a.ID + "]",
				Sound:  true,
				Urgent: a.Urgency == models.UrgencyCritical,
			})
		},
	})
	f.AttachPush(client.NewPushSubscriber(api, f.HandlePush, f.HandlePushError))
	f.Start(ctx)
	defer f.Close()

	rec := responder.New(api, f, cfg.Client.RequestTimeout, *lang)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Println("Commands: list [active|all], open <id>, respond <id> [unable] [message], unread, quit")
	badge := time.NewTicker(cfg.Alert.BadgePollInterval)
	defer badge.Stop()
	for {
		select {
		case <-ctx.Done():
			sess.Logout(context.Background())
			return
		case <-badge.C:
			printStatus(f)
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, f, rec, *lang, cfg, strings.Fields(line)); quit {
				sess.Logout(context.Background())
				removeToken(cfg.Client.CacheDir)
				return
			}
		}
	}
}

// signIn 先用缓存的令牌恢复登录；锁定提示只用来提前拦截，服务端结果为准
func signIn(ctx context.Context, sess *session.Provider, dir, email, password string) (*models.User, error) {
	if token := loadToken(dir); token != "" {
		if u, err := sess.Load(ctx, token); err == nil {
			return u, nil
		}
	}
	if email == "" || password == "" {
		return nil, errors.Validation("email", i18n.MsgFieldRequired)
	}
	if locked, remaining := sess.LockoutHint(ctx, email); locked {
		minutes := int(remaining.Minutes()) + 1
		return nil, errors.WithCode(http.StatusLocked, i18n.MsgAccountLocked).WithContext("Minutes", fmt.Sprint(minutes))
	}
	return sess.Login(ctx, email, password)
}

func run(ctx context.Context, f *feed.Feed, rec *responder.Recorder, lang string, cfg *config.Config, args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "quit", "exit":
		return true
	case "unread":
		printStatus(f)
	case "list":
		filter := feed.Filter{Status: models.AlertStatusActive}
		if len(args) > 1 && args[1] == "all" {
			filter.Status = ""
		}
		for _, it := range f.View(filter) {
			printItem(it)
		}
	case "open":
		if len(args) < 2 {
			fmt.Println("usage: open <id>")
			return false
		}
		it, err := f.Open(ctx, args[1])
		if err != nil {
			fmt.Println(describe(lang, cfg, err))
			return false
		}
		printDetail(it)
	case "respond":
		if len(args) < 2 {
			fmt.Println("usage: respond <id> [unable] [message]")
			return false
		}
		kind, rest := models.ResponseResponding, args[2:]
		if len(rest) > 0 && strings.EqualFold(rest[0], "unable") {
			kind, rest = models.ResponseUnable, rest[1:]
		}
		if !rec.CanRespond(args[1]) {
			fmt.Println(i18n.T(lang, i18n.MsgResponseDuplicate, nil))
			return false
		}
		if _, err := rec.Respond(ctx, args[1], kind, strings.Join(rest, " "), ""); err != nil {
			fmt.Println(rec.Message(err))
			return false
		}
		fmt.Println("Response recorded.")
	default:
		fmt.Println("unknown command:", args[0])
	}
	return false
}

func printStatus(f *feed.Feed) {
	fmt.Printf("Unread: %d  Alerts: %d\n", f.UnreadCount(), f.Len())
	if b := f.Banner(); b != nil {
		fmt.Println("!", b.Message)
		f.Dismiss()
	}
}

func printItem(it feed.Item) {
	mark := " "
	if it.Unread {
		mark = "*"
	}
	dist := "   ?   "
	if it.Alert.Distance != nil {
		dist = fmt.Sprintf("%5.1fkm", *it.Alert.Distance)
	}
	fmt.Printf("%s %s %-8s %-17s %-9s %s %s\n", mark, it.Alert.ID, it.Alert.Urgency, it.Alert.Type, it.Alert.Status, dist, it.Alert.CreatedAt.Format("15:04"))
}

func printDetail(it feed.Item) {
	a := it.Alert
	printItem(it)
	if name := a.RequesterName(); name != "" {
		fmt.Println("  requester:", name)
	}
	if a.Description != "" {
		fmt.Println("  description:", a.Description)
	}
	if len(a.Symptoms) > 0 {
		fmt.Println("  symptoms:", strings.Join(a.Symptoms, ", "))
	}
	if a.Location != nil {
		fmt.Printf("  location: %.5f, %.5f (±%.0fm)\n", a.Location.Latitude, a.Location.Longitude, a.Location.Accuracy)
	}
	for _, r := range a.DoctorResponses {
		fmt.Printf("  %s: %s %s %s\n", r.DoctorName, r.ResponseType, r.Message, r.EstimatedArrival)
	}
	if it.Patch != nil {
		fmt.Println("  your response:", it.Patch.State)
	}
}

func describe(lang string, cfg *config.Config, err error) string {
	e, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	data := map[string]interface{}{"Field": e.Field, "Number": cfg.Alert.EmergencyNumber}
	for _, kv := range e.Context {
		data[kv.Key] = kv.Value
	}
	return i18n.T(lang, e.Message, data)
}

func loadToken(dir string) string {
	if dir == "" {
		return ""
	}
	b, err := os.ReadFile(filepath.Join(dir, tokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveToken(dir, token string) {
	if dir == "" || token == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("create cache dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, tokenFile), []byte(token), 0o600); err != nil {
		logger.Warn("save session token", zap.Error(err))
	}
}

func removeToken(dir string) {
	if dir == "" {
		return
	}
	_ = os.Remove(filepath.Join(dir, tokenFile))
}
