package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/pkg/logger"
)

// 常量定义。
const (
	tokenTypeAccess = "access"
	jwtHeaderJSON   = `{"alg":"HS256","typ":"JWT"}`
	passwordCost    = bcrypt.DefaultCost
)

// encodedJWTHeader 是编码后的 JWT 头部。
var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(jwtHeaderJSON))

// Service 负责解析调用方身份并签发访问令牌。
type Service struct {
	mode  Mode
	store Store
	jwt   *jwtManager
	audit *slog.Logger
	now   func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
		now:   time.Now,
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, errors.New("jwt mode requires a user store")
		}
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		if cfg.JWT.AccessTTL <= 0 {
			cfg.JWT.AccessTTL = time.Hour
		}
		svc.jwt = &jwtManager{
			secret:    []byte(cfg.JWT.Secret),
			issuer:    cfg.JWT.Issuer,
			accessTTL: cfg.JWT.AccessTTL,
			now:       svc.clock,
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if writer, ok := store.(interface {
		ApplySeed(context.Context, Seed) error
	}); ok {
		for _, seed := range cfg.Seeds {
			if err := writer.ApplySeed(ctx, seed); err != nil {
				return nil, fmt.Errorf("apply seed %s: %w", seed.Username, err)
			}
		}
	}
	return svc, nil
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 校验用户名密码并签发访问令牌，仅在 jwt 模式下可用。
func (s *Service) IssueToken(ctx context.Context, req TokenRequest) (*Token, error) {
	if s == nil || s.mode != ModeJWT || s.jwt == nil {
		return nil, ErrDisabled
	}
	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrSubjectRevoked
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	token, err := s.jwt.Generate(&Subject{ProfileID: user.ProfileID, Username: user.Username, Roles: user.Roles})
	if err != nil {
		return nil, err
	}
	s.audit.Info("token_issued", "username", user.Username, "profile_id", user.ProfileID)
	return token, nil
}

// ResolveCaller 根据 Authorization 头和请求声明的 profileId 解析调用方身份。
// 任何缺失或不合法的身份都返回 UNAUTHORIZED，不会降级为匿名上下文。
func (s *Service) ResolveCaller(_ context.Context, authorization, claimedProfileID string) (*Subject, error) {
	claimed := strings.TrimSpace(claimedProfileID)
	if s == nil || s.mode == ModeDisabled {
		if claimed == "" {
			return nil, unauthorized(ErrMissingIdentity)
		}
		if !ValidProfileID(claimed) {
			return nil, unauthorized(ErrMalformedIdentity)
		}
		return &Subject{ProfileID: claimed}, nil
	}

	token, err := bearerToken(authorization)
	if err != nil {
		return nil, unauthorized(err)
	}
	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, unauthorized(err)
	}
	if claims.TokenType != tokenTypeAccess || !ValidProfileID(claims.Subject) {
		return nil, unauthorized(ErrInvalidToken)
	}
	if claimed != "" && claimed != claims.Subject {
		return nil, unauthorized(ErrIdentityMismatch)
	}
	return &Subject{ProfileID: claims.Subject, Username: claims.Username, Roles: claims.Roles}, nil
}

func unauthorized(cause error) error {
	return xerrors.Wrap(xerrors.CodeUnauthorized, cause, cause.Error())
}

func bearerToken(authorization string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// jwtClaims 定义 JWT 令牌的声明结构。
type jwtClaims struct {
	Username  string   `json:"username,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"type"`
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
}

// Generate 生成访问令牌。
func (m *jwtManager) Generate(subject *Subject) (*Token, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	now := m.now().Unix()
	claims := jwtClaims{
		Username:  subject.Username,
		Roles:     append([]string(nil), subject.Roles...),
		TokenType: tokenTypeAccess,
		Subject:   subject.ProfileID,
		Issuer:    m.issuer,
		IssuedAt:  now,
		ExpiresAt: now + int64(m.accessTTL.Seconds()),
	}
	accessToken, err := m.sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Token{
		AccessToken: accessToken,
		ExpiresIn:   int64(m.accessTTL.Seconds()),
		TokenType:   "Bearer",
		ProfileID:   subject.ProfileID,
	}, nil
}

// sign 使用 HMAC-SHA256 签名 JWT 令牌。
func (m *jwtManager) sign(claims jwtClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return strings.Join([]string{encodedJWTHeader, payload, base64.RawURLEncoding.EncodeToString(signature)}, "."), nil
}

// signature 计算 JWT 令牌的签名部分。
func (m *jwtManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 验证 JWT 令牌的有效性并返回其声明。
func (m *jwtManager) Verify(token string) (*jwtClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != 0 && m.now().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// HashPassword 使用 bcrypt 对密码进行哈希处理。
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// verifyPassword 验证给定的密码是否与哈希值匹配。
func verifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
