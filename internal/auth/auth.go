package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
)

const (
	// RoleAdmin — единственная роль, которой выдаются токены.
	RoleAdmin  = "admin"
	issuer     = "lessons-service"
	defaultTTL = 12 * time.Hour
)

var (
	// ErrInvalidCredentials — неверный логин или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken — токен не подписан нашим ключом, просрочен или повреждён.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims — полезная нагрузка токена администратора.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token — выданный токен и момент его истечения.
type Token struct {
	Token     string
	ExpiresAt time.Time
}

// Config — учётные данные администратора и параметры подписи.
type Config struct {
	Username     string
	PasswordHash string
	Secret       string
	TTL          time.Duration
}

// Authenticator проверяет пароль администратора и выпускает HS256 JWT.
type Authenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	clock        clock.Clock
}

// New создаёт Authenticator. Пустой секрет или хеш пароля — ошибка конфигурации.
func New(cfg Config, clk clock.Clock) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Username == "" || cfg.PasswordHash == "" {
		return nil, errors.New("admin username and password hash are required")
	}
	if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		secret:       []byte(cfg.Secret),
		ttl:          cfg.TTL,
		clock:        clk,
	}, nil
}

// HashPassword возвращает bcrypt-хеш пароля.
func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login сверяет учётные данные и выпускает токен.
func (a *Authenticator) Login(username, password string) (Token, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	// bcrypt выполняется всегда, чтобы время ответа не выдавало существование логина.
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return Token{}, ErrInvalidCredentials
	}
	return a.Issue(username)
}

// Issue подписывает токен для subject без проверки пароля.
func (a *Authenticator) Issue(subject string) (Token, error) {
	now := a.clock.Now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Token: signed, ExpiresAt: exp}, nil
}

// Verify проверяет подпись, срок действия и роль токена.
func (a *Authenticator) Verify(raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleAdmin {
		return Claims{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
