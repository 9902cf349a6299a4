package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	jwt    *jwtManager
	audit  *slog.Logger
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewService 构造身份认证服务实例。空模式等同 disabled。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "token 模式至少需要配置一个令牌")
		}
		for i, tok := range cfg.Tokens {
			if strings.TrimSpace(tok.Token) == "" {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个令牌为空", i+1))
			}
			name := tok.Name
			if name == "" {
				name = fmt.Sprintf("token-%d", i+1)
			}
			svc.tokens = append(svc.tokens, tokenEntry{
				digest:  sha256.Sum256([]byte(tok.Token)),
				subject: Subject{Name: name, Permissions: append([]string(nil), tok.Permissions...)},
			})
		}
	case ModeJWT:
		manager, err := newJWTManager(cfg.JWT)
		if err != nil {
			return nil, err
		}
		svc.jwt = manager
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的认证模式: %s", cfg.Mode))
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 令牌并返回对应主体。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	token, err := bearerToken(authorization)
	if err != nil {
		return nil, err
	}
	switch s.Mode() {
	case ModeToken:
		digest := sha256.Sum256([]byte(token))
		for i := range s.tokens {
			if subtle.ConstantTimeCompare(digest[:], s.tokens[i].digest[:]) == 1 {
				subject := s.tokens[i].subject
				subject.Permissions = append([]string(nil), subject.Permissions...)
				return &subject, nil
			}
		}
		return nil, ErrInvalidToken
	case ModeJWT:
		return s.jwt.verify(token, time.Now())
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "认证未启用")
	}
}

// IssueToken 在 jwt 模式下为 name 签发携带 permissions 的访问令牌。
// ttl 为 0 时使用配置中的有效期。
func (s *Service) IssueToken(name string, permissions []string, ttl time.Duration) (string, error) {
	if s.Mode() != ModeJWT {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "仅 jwt 模式支持签发令牌")
	}
	if strings.TrimSpace(name) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "令牌主体不能为空")
	}
	token, err := s.jwt.generate(name, permissions, ttl, time.Now())
	if err != nil {
		return "", err
	}
	s.audit.Info("token_issued",
		slog.String("subject", name),
		slog.Any("permissions", permissions),
	)
	return token, nil
}

func bearerToken(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
