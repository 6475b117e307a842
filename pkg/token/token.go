package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is used when neither the options nor the claims set an expiry
	DefaultTTL = 30 * time.Second

	// DefaultIssuer is the iss claim of issued tokens
	DefaultIssuer = "gatekeeper"
)

// Signer signs and verifies token payloads with a named alias
type Signer interface {
	Sign(payload []byte, alias string) ([]byte, error)
	Verify(payload, signature []byte, alias string) (bool, error)
	Algorithm(alias string) string
}

// Claims are the claims of a gateway token: the registered JWT claims plus
// free-form attributes asserted about the subject
type Claims struct {
	jwt.RegisteredClaims
	Attributes map[string]any `json:"attrs,omitempty"`
}

// Options configures an Authority
type Options struct {
	Signer       Signer
	SigningAlias string
	Issuer       string
	TTL          time.Duration
	// Leeway tolerates clock skew when validating time claims
	Leeway time.Duration
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Authority issues and verifies signed tokens. It holds no key material:
// signing goes through the crypto service with a fixed signing alias.
type Authority struct {
	signer Signer
	alias  string
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewAuthority creates a token authority
func NewAuthority(opts Options) *Authority {
	a := &Authority{
		signer: opts.Signer,
		alias:  opts.SigningAlias,
		issuer: opts.Issuer,
		ttl:    opts.TTL,
		leeway: opts.Leeway,
		now:    opts.Now,
		logger: log.WithComponent("token"),
	}
	if a.alias == "" {
		a.alias = types.GatewayIdentityAlias
	}
	if a.issuer == "" {
		a.issuer = DefaultIssuer
	}
	if a.ttl == 0 {
		a.ttl = DefaultTTL
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// SigningAlias returns the alias tokens are signed with
func (a *Authority) SigningAlias() string {
	return a.alias
}

// IssueToken signs claims and returns the compact serialized token. Unset
// issuer, issued-at, expiry and token ID are filled in.
func (a *Authority) IssueToken(claims Claims) (string, error) {
	const op = "issue token"

	now := a.now()
	if claims.Issuer == "" {
		claims.Issuer = a.issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}
	if claims.ID == "" {
		claims.ID = uuid.New().String()
	}

	method := jwt.GetSigningMethod(a.signer.Algorithm(a.alias))
	if method == nil {
		return "", &types.Error{Kind: types.KindCrypto, Op: op, Alias: a.alias, Err: errors.New("unsupported signing algorithm")}
	}

	token := jwt.NewWithClaims(method, &claims)
	signingString, err := token.SigningString()
	if err != nil {
		return "", &types.Error{Kind: types.KindCrypto, Op: op, Alias: a.alias, Err: err}
	}

	signature, err := a.signer.Sign([]byte(signingString), a.alias)
	if err != nil {
		return "", types.WithOp(err, op)
	}

	metrics.TokensIssued.Inc()
	a.logger.Debug().
		Str("jti", claims.ID).
		Str("sub", claims.Subject).
		Time("exp", claims.ExpiresAt.Time).
		Msg("Token issued")

	return signingString + "." + token.EncodeSegment(signature), nil
}

// VerifyToken checks the signature and time claims of a token and returns its
// claims. Any problem is reported as KindInvalidToken.
func (a *Authority) VerifyToken(tokenString string) (claims *Claims, err error) {
	defer func() {
		metrics.TokenVerifications.WithLabelValues(metrics.Result(err)).Inc()
	}()

	expected := a.signer.Algorithm(a.alias)
	parser := jwt.NewParser()

	claims = &Claims{}
	token, parts, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, invalid("malformed token", err)
	}
	if token.Method == nil || token.Method.Alg() != expected {
		return nil, invalid(fmt.Sprintf("unexpected signing algorithm %v", token.Header["alg"]), nil)
	}

	valid, err := a.signer.Verify([]byte(parts[0]+"."+parts[1]), token.Signature, a.alias)
	if err != nil {
		return nil, invalid("signature could not be checked", err)
	}
	if !valid {
		return nil, invalid("bad signature", jwt.ErrTokenSignatureInvalid)
	}

	validator := jwt.NewValidator(
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err := validator.Validate(claims); err != nil {
		return nil, invalid("claims rejected", err)
	}
	return claims, nil
}

func invalid(reason string, cause error) error {
	err := errors.New(reason)
	if cause != nil {
		err = fmt.Errorf("%s: %w", reason, cause)
	}
	return &types.Error{Kind: types.KindInvalidToken, Op: "verify token", Err: err}
}
