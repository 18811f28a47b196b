package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"tablepos/internal/domain"
)

var (
	ErrNoActor      = errors.New("no actor in context")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims токен сотрудника: sub = id актёра
type Claims struct {
	Role   domain.Role `json:"role"`
	Tenant int64       `json:"tenant,string"`
	jwt.RegisteredClaims
}

// IssueToken подписывает HS256 токен для актёра; ttl 0 означает бессрочный
func IssueToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if !actor.Role.Valid() {
		return "", errors.Errorf("unknown role %q", actor.Role)
	}
	now := time.Now()
	claims := Claims{
		Role:   actor.Role,
		Tenant: actor.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(actor.ID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken проверяет подпись и срок, возвращает актёра
func ParseToken(secret, token string) (domain.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Actor{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errors.Wrapf(ErrInvalidToken, "subject %q", claims.Subject)
	}
	if !claims.Role.Valid() {
		return domain.Actor{}, errors.Wrapf(ErrInvalidToken, "role %q", claims.Role)
	}
	return domain.Actor{ID: id, Role: claims.Role, TenantID: claims.Tenant}, nil
}

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// ContextIdentity берёт актёра, положенного middleware в контекст запроса
type ContextIdentity struct{}

func (ContextIdentity) CurrentActor(ctx context.Context) (domain.Actor, error) {
	a, ok := ActorFrom(ctx)
	if !ok {
		return domain.Actor{}, ErrNoActor
	}
	return a, nil
}
