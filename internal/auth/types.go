package auth

import (
	"fmt"
	"strings"
	"time"

	xerrors "lestnet-sdk/internal/errors"
)

// Mode 枚举支持的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
)

// lestnetd 接口使用的权限。
const (
	PermTransfersRead  = "transfers:read"
	PermTransfersWrite = "transfers:write"
)

const (
	CodeMissingToken     xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken     xerrors.Code = "AUTH_INVALID_TOKEN"
	CodePermissionDenied xerrors.Code = "AUTH_PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{Message: "missing bearer token", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{Message: "invalid token", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
}

var (
	ErrMissingToken     = xerrors.New(CodeMissingToken, "missing bearer token")
	ErrInvalidToken     = xerrors.New(CodeInvalidToken, "invalid token")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

// Subject 是通过认证的调用方，经由 context 传递给处理函数。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

// normalise 构建权限查找表。
func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断主体是否拥有指定权限。"*" 表示全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 确认主体拥有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, fmt.Sprintf("missing %s", perm))
		}
	}
	return nil
}

// Config 配置认证服务。
type Config struct {
	Mode   Mode          `yaml:"mode"`
	Tokens []StaticToken `yaml:"tokens"`
	JWT    JWTOptions    `yaml:"jwt"`
}

// StaticToken 是写在配置中的长期令牌，通常通过 ${VAR} 注入。
type StaticToken struct {
	Name        string   `yaml:"name"`
	Token       string   `yaml:"token"`
	Permissions []string `yaml:"permissions"`
}

// JWTOptions 描述本地签发的 HS256 令牌。
type JWTOptions struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience []string      `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}
