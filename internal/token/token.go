package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"devos/identity/internal/model"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// TokenType is the fixed type tag carried by every issued pair.
	TokenType = "Bearer"
)

var (
	ErrMissingSecret = errors.New("token: both access and refresh secrets are required")
	ErrSharedSecret  = errors.New("token: access and refresh secrets must differ")
	ErrBadTTL        = errors.New("token: access TTL must be shorter than refresh TTL")
)

// Claims is the signed payload of both token kinds. SessionID is present on
// refresh tokens only. The JSON field names (sub, email, iat, exp, sessionId)
// are part of the wire contract with anything that inspects tokens.
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"sessionId,omitempty"`
	jwt.RegisteredClaims
}

// Authority mints and verifies token pairs. It keeps no record of issued
// tokens; verification is purely cryptographic. Access and refresh tokens are
// signed with independent secrets so possession of one cannot forge the other.
type Authority struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewAuthority builds an Authority. Zero TTLs fall back to the defaults
// (15 minutes access, 7 days refresh).
func NewAuthority(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Authority, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, ErrSharedSecret
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if accessTTL >= refreshTTL {
		return nil, ErrBadTTL
	}
	return &Authority{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// Issue mints a fresh pair for the subject. The refresh token embeds the
// session id so the refresh flow can locate the session it belongs to.
func (a *Authority) Issue(subjectID, email, sessionID string) (model.TokenPair, error) {
	now := time.Now().UTC()

	accessToken, err := a.sign(a.accessSecret, Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
		},
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken, err := a.sign(a.refreshSecret, Claims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.refreshTTL)),
		},
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(a.accessTTL.Seconds()),
		TokenType:    TokenType,
	}, nil
}

// Rotate issues a replacement pair. The prior refresh token stays
// cryptographically valid until it expires; callers that want single-use
// refresh tokens must check the session binding themselves.
func (a *Authority) Rotate(subjectID, email, sessionID string) (model.TokenPair, error) {
	return a.Issue(subjectID, email, sessionID)
}

// VerifyAccess validates signature and expiry against the access secret.
// Any failure, including malformed input, reports ok=false.
func (a *Authority) VerifyAccess(tokenString string) (*Claims, bool) {
	return verify(a.accessSecret, tokenString)
}

// VerifyRefresh validates signature and expiry against the refresh secret.
func (a *Authority) VerifyRefresh(tokenString string) (*Claims, bool) {
	return verify(a.refreshSecret, tokenString)
}

// DecodeUnsafe returns the claims without checking the signature. Inspection
// only; never use the result for an authorization decision.
func (a *Authority) DecodeUnsafe(tokenString string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

// IsExpired reports whether the token's exp claim is in the past. Tokens that
// fail to decode count as expired.
func (a *Authority) IsExpired(tokenString string) bool {
	claims := a.DecodeUnsafe(tokenString)
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Before(time.Now().UTC())
}

func (a *Authority) sign(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verify(secret []byte, tokenString string) (*Claims, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, false
	}
	return claims, true
}
