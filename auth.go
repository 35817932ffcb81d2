package vitrine

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier checks a bearer token and returns the subject it belongs to.
// Token issuance lives with an identity provider; the server only needs to
// decide whether a presented token is trustworthy.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// NewTokenVerifier picks the verification strategy from config: a remote
// identity provider when ProviderURL is set, otherwise local HS256
// verification against the shared secret.
func NewTokenVerifier(cfg Config) TokenVerifier {
	if cfg.ProviderURL != "" {
		return NewRemoteVerifier(cfg.ProviderURL)
	}
	return &jwtVerifier{secret: []byte(cfg.TokenSecret)}
}

type jwtVerifier struct {
	secret []byte
}

func (v *jwtVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	sub, _ := parsed.Claims.GetSubject()
	return sub, nil
}

// RemoteVerifier asks an external identity provider whether a token is
// valid by fetching the user it belongs to.
type RemoteVerifier struct {
	client *resty.Client
	url    string
}

// NewRemoteVerifier creates a RemoteVerifier for the provider's user
// endpoint (e.g. https://idp.example.com/auth/v1/user).
func NewRemoteVerifier(url string) *RemoteVerifier {
	return &RemoteVerifier{
		client: resty.New().SetTimeout(5 * time.Second),
		url:    url,
	}
}

func (v *RemoteVerifier) Verify(token string) (string, error) {
	var user struct {
		ID string `json:"id"`
	}
	resp, err := v.client.R().
		SetAuthToken(token).
		SetResult(&user).
		Get(v.url)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || user.ID == "" {
		return "", ErrInvalidToken
	}
	return user.ID, nil
}

// IssueToken signs an HS256 JWT for the admin user.
func IssueToken(secret, username string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// requireAuth rejects requests without a valid bearer token.
func requireAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "none or bad token provided")
			}
			subject, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set("subject", subject)
			return next(c)
		}
	}
}

// checkAdminCredentials compares the supplied credentials in constant time.
func checkAdminCredentials(cfg Config, username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.AdminPassword)) == 1
	return userOK && passOK
}
