package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// RoleClaim is the private claim carrying the caller role.
const RoleClaim = "role"

var errInvalidToken = common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, nil)

// Claims is what a verified access token says about the caller.
type Claims struct {
	Subject string
	Role    string
}

// Verifier checks HS256 access tokens issued by the account service.
type Verifier struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// Parse validates token and returns its claims.
func (v Verifier) Parse(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || len(v.Secret) == 0 {
		return Claims{}, errInvalidToken
	}
	algorithm, err := tokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if algorithm != jwa.HS256 {
		return Claims{}, fmt.Errorf("unexpected token algorithm %s: %w", algorithm, errInvalidToken)
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(jwa.HS256, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	options := []jwt.ValidateOption{jwt.WithClock(jwt.ClockFunc(v.now))}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(parsed, options...); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if parsed.Subject() == "" {
		return Claims{}, fmt.Errorf("token has no subject: %w", errInvalidToken)
	}
	claims := Claims{Subject: parsed.Subject()}
	if raw, ok := parsed.Get(RoleClaim); ok {
		claims.Role, _ = raw.(string)
	}
	return claims, nil
}

// Issue signs a token for subject. It backs local tooling and tests.
func (v Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := v.now()
	b := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl))
	if v.Issuer != "" {
		b = b.Issuer(v.Issuer)
	}
	if v.Audience != "" {
		b = b.Audience([]string{v.Audience})
	}
	if role != "" {
		b = b.Claim(RoleClaim, role)
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}
