package i18n

import (
	"embed"
	"encoding/json"
	"path"
	"sync"

	"MediLink/pkg/logger"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// 消息键
const (
	MsgAlertSubmitFailed   = "alert.submit_failed"
	MsgAlertSent           = "alert.sent"
	MsgAlertCountdown      = "alert.countdown"
	MsgGuestChoice         = "alert.guest_choice"
	MsgPollFailed          = "feed.poll_failed"
	MsgPushLost            = "feed.push_lost"
	MsgResponseFailed      = "response.failed"
	MsgResponseDuplicate   = "response.duplicate"
	MsgAlertStale          = "response.stale"
	MsgFieldRequired       = "validation.required"
	MsgPhoneInvalid        = "validation.phone"
	MsgEmailInvalid        = "validation.email"
	MsgLoginFailed         = "auth.login_failed"
	MsgAccountLocked       = "auth.locked"
	MsgLocationUnavailable = "geo.unavailable"
)

// I18nSupport 国际化支持结构体
type I18nSupport struct {
	bundle  *i18n.Bundle
	matcher language.Matcher
}

// NewI18nSupport 初始化国际化支持，语言文件随二进制嵌入
func NewI18nSupport(defaultLang string) (*I18nSupport, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, err
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := path.Join("locales", e.Name())
		buf, err := localeFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(buf, name); err != nil {
			return nil, err
		}
	}

	return &I18nSupport{
		bundle:  bundle,
		matcher: language.NewMatcher(bundle.LanguageTags()),
	}, nil
}

// T 获取翻译文本，找不到时返回键名
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		logger.Debug("translation missing", zap.String("key", key), zap.String("lang", languageTag), zap.Error(err))
		return key
	}
	return translation
}

// TWithDefaultLang 使用默认语言获取翻译文本
func (i *I18nSupport) TWithDefaultLang(key string, templateData map[string]interface{}) string {
	return i.T("", key, templateData)
}

// Match 将 Accept-Language 解析为已支持的语言标签
func (i *I18nSupport) Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return i.bundle.LanguageTags()[0].String()
	}
	_, idx, _ := i.matcher.Match(tags...)
	base, _ := i.bundle.LanguageTags()[idx].Base()
	return base.String()
}

var (
	defaultOnce    sync.Once
	defaultSupport *I18nSupport
)

// Default 英文为默认语言的全局实例
func Default() *I18nSupport {
	defaultOnce.Do(func() {
		s, err := NewI18nSupport("en")
		if err != nil {
			logger.Error("i18n init failed", zap.Error(err))
			s = &I18nSupport{bundle: i18n.NewBundle(language.English), matcher: language.NewMatcher([]language.Tag{language.English})}
		}
		defaultSupport = s
	})
	return defaultSupport
}

// T 使用全局实例翻译
func T(lang, key string, data map[string]interface{}) string {
	return Default().T(lang, key, data)
}
