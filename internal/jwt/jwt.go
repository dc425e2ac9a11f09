package jwt

import (
	"chatrelay-backend/internal/errs"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type UserToken struct {
	UserID   int64  `json:"userID"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Keeper signs and verifies the bearer tokens shared by REST and the socket
// handshake.
type Keeper struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) (*Keeper, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret can't be empty")
	}
	return &Keeper{secret: []byte(secret), now: time.Now}, nil
}

func (k *Keeper) CreateToken(userID int64, username string, lifetime time.Duration) (string, error) {
	currentTime := k.now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, UserToken{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(lifetime)),
		},
	})

	return token.SignedString(k.secret)
}

// VerifyToken fails with errs.ErrUnauthorized for bad signatures, missing or
// passed expiry and tokens without a user.
func (k *Keeper) VerifyToken(tokenString string) (UserToken, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserToken{}, func(token *jwt.Token) (any, error) {
		return k.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(k.now),
	)
	if err != nil {
		return UserToken{}, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*UserToken)
	if !ok || claims.UserID <= 0 {
		return UserToken{}, errs.Wrap(errs.ErrUnauthorized, "token has no user")
	}
	return *claims, nil
}

// BearerToken reads "Authorization: Bearer <token>". Browsers can't set
// headers on a websocket upgrade, so the handshake may carry ?token= instead.
func BearerToken(r *http.Request, allowQuery bool) (string, bool) {
	header := r.Header.Get("Authorization")
	if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	if allowQuery {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}
	return "", false
}
