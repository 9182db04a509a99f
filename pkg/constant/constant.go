package constant

// gin.Context 键
const (
	UserField    = "_medilink_user"
	UserIDField  = "_medilink_uid"
	RoleField    = "_medilink_role"
	DbField      = "_medilink_db"
	LangField    = "_medilink_lang"
	SessionField = "uid"
)

// 角色
const (
	RolePatient = "PATIENT"
	RoleDoctor  = "DOCTOR"
	RoleAdmin   = "ADMIN"
)

// 请求头
const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRetryAfter     = "Retry-After"
	HeaderAcceptLanguage = "Accept-Language"
	BearerPrefix         = "Bearer "
)

// 缓存键前缀
const (
	CacheKeyLoginAttempts = "login:attempts:"
	CacheKeyLoginLocked   = "login:locked:"
	CacheKeyLockoutHint   = "client:lockout:"
	CacheKeyPosition      = "geo:position"
	CacheKeyIdempotency   = "idem:"
)
