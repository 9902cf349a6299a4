package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	xerrors "lestnet-sdk/internal/errors"
)

const defaultTokenTTL = time.Hour

type claims struct {
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret   []byte
	issuer   string
	audience []string
	ttl      time.Duration
}

func newJWTManager(opts JWTOptions) (*jwtManager, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "jwt secret 不能为空")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &jwtManager{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: append([]string(nil), opts.Audience...),
		ttl:      ttl,
	}, nil
}

func (m *jwtManager) generate(name string, permissions []string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	c := claims{
		Permissions: append([]string(nil), permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   name,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "签发令牌失败")
	}
	return signed, nil
}

func (m *jwtManager) verify(token string, now time.Time) (*Subject, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return m.secret, nil }); err != nil {
		return nil, xerrors.Wrap(CodeInvalidToken, err, "")
	}
	if !c.VerifyExpiresAt(now, true) {
		return nil, xerrors.New(CodeInvalidToken, "token expired")
	}
	if m.issuer != "" && !c.VerifyIssuer(m.issuer, true) {
		return nil, xerrors.New(CodeInvalidToken, "unexpected issuer")
	}
	if len(m.audience) > 0 && !m.audienceMatches(&c) {
		return nil, xerrors.New(CodeInvalidToken, "unexpected audience")
	}
	if c.Subject == "" {
		return nil, xerrors.New(CodeInvalidToken, "token has no subject")
	}
	return &Subject{Name: c.Subject, Permissions: c.Permissions}, nil
}

func (m *jwtManager) audienceMatches(c *claims) bool {
	for _, aud := range m.audience {
		if c.VerifyAudience(aud, true) {
			return true
		}
	}
	return false
}
