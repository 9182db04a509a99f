package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind 错误分类，决定错误如何呈现给用户
type Kind int

const (
	KindInternal   Kind = iota
	KindValidation      // 表单字段错误，就地提示，不发网络请求
	KindTransient       // 网络/服务暂时失败，可重试，展示可关闭横幅
	KindPermission      // 定位、通知等权限被拒绝，静默降级
	KindRejected        // 服务端权威拒绝（重复响应、警报已失效），需要重新同步
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindRejected:
		return "rejected"
	default:
		return "internal"
	}
}

// Error represents a custom error with stack trace
type Error struct {
	Code    int        `json:"code"`
	Kind    Kind       `json:"-"`
	Field   string     `json:"field,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new error
func New(message string) *Error {
	return &Error{Message: message, Stack: captureStack()}
}

// Errorf creates a new formatted error
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: captureStack()}
}

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{Code: code, Kind: kindFromStatus(code), Message: message, Stack: captureStack()}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return WithCode(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with message
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Message: message, Err: err, Stack: captureStack()}
	if inner, ok := As(err); ok {
		e.Code, e.Kind, e.Field = inner.Code, inner.Kind, inner.Field
	}
	return e
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Validation 字段校验错误
func Validation(field, message string) *Error {
	return &Error{Code: http.StatusBadRequest, Kind: KindValidation, Field: field, Message: message}
}

// Transient 可重试错误
func Transient(err error, message string) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err, Stack: captureStack()}
}

// Permission 权限拒绝
func Permission(message string) *Error {
	return &Error{Code: http.StatusForbidden, Kind: KindPermission, Message: message}
}

// Rejected 服务端权威拒绝
func Rejected(code int, message string) *Error {
	return &Error{Code: code, Kind: KindRejected, Message: message}
}

// WithKind 返回设置了分类的副本
func (e *Error) WithKind(k Kind) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	n.Kind = k
	return n
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	n.Context = append(n.Context, KeyValue{Key: key, Value: value})
	return n
}

// WithContexts adds multiple contexts to an error
func (e *Error) WithContexts(kv map[string]string) *Error {
	if e == nil || len(kv) == 0 {
		return e
	}
	n := e.clone()
	for k, v := range kv {
		n.Context = append(n.Context, KeyValue{Key: k, Value: v})
	}
	return n
}

func (e *Error) clone() *Error {
	n := *e
	n.Context = make([]KeyValue, len(e.Context), len(e.Context)+1)
	copy(n.Context, e.Context)
	return &n
}

// As 在错误链中查找 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in the chain
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误分类
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// GetCode returns the error code
func GetCode(err error) int {
	if e, ok := As(err); ok {
		return e.Code
	}
	return 0
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// GetStack returns the error stack trace
func GetStack(err error) string {
	if e, ok := As(err); ok {
		return e.Stack
	}
	return ""
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// kindFromStatus 由 HTTP 状态码推断分类
func kindFromStatus(code int) Kind {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindValidation
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindPermission
	case code == http.StatusConflict || code == http.StatusGone || code == http.StatusNotFound || code == http.StatusLocked:
		return KindRejected
	case code == http.StatusTooManyRequests || code >= 500:
		return KindTransient
	default:
		return KindInternal
	}
}

// FromStatus 将 HTTP 状态码与服务端消息转换为分类错误
func FromStatus(code int, message string) *Error {
	return &Error{Code: code, Kind: kindFromStatus(code), Message: message}
}

func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 去掉 captureStack 与构造函数本身
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}
	return strings.TrimSpace(stack)
}
