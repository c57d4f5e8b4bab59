package security

import (
	"fmt"
	"strings"
	"time"

	"PPLink/tools/errs"
	"PPLink/tools/ids"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Options control signing and lifetimes.
type Options struct {
	Secret     []byte        // HMAC key, from config/env in production
	Alg        string        // HS256/HS384/HS512 (default HS256)
	AccessTTL  time.Duration // default 2h
	RefreshTTL time.Duration // default 30 days
	Issuer     string
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", AccessTTL: 2 * time.Hour, RefreshTTL: 30 * 24 * time.Hour}
}

// Credentials is the access/refresh pair handed to a device.
type Credentials struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Claims is the verified identity carried by a token.
type Claims struct {
	UserID      string
	DeviceClass string
	Kind        string
	ExpiresAt   time.Time
}

type tokenClaims struct {
	Device string `json:"dev,omitempty"`
	Kind   string `json:"typ"`
	jwtlib.RegisteredClaims
}

// Issuer mints and verifies HMAC-signed JWTs.
type Issuer struct {
	opts   Options
	method jwtlib.SigningMethod
	now    func() time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if len(opts.Secret) == 0 {
		return nil, errs.ErrArgs.WrapMsg("jwt secret is empty")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 2 * time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Issuer{opts: opts, method: method, now: time.Now}, nil
}

// Issue mints a fresh credential pair for userID on a device of the given class.
func (i *Issuer) Issue(userID, deviceClass string) (Credentials, error) {
	if userID == "" {
		return Credentials{}, errs.ErrArgs.WrapMsg("empty subject")
	}
	now := i.now()
	access, accessExp, err := i.sign(userID, deviceClass, KindAccess, now, i.opts.AccessTTL)
	if err != nil {
		return Credentials{}, err
	}
	refresh, refreshExp, err := i.sign(userID, deviceClass, KindRefresh, now, i.opts.RefreshTTL)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(userID, deviceClass, kind string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := tokenClaims{
		Device: deviceClass,
		Kind:   kind,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.opts.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
			ID:        ids.UUID{}.New(),
		},
	}
	signed, err := jwtlib.NewWithClaims(i.method, claims).SignedString(i.opts.Secret)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "sign token")
	}
	return signed, exp, nil
}

// Verify parses token and checks signature, lifetime and kind.
// Every failure is reported as ErrUnauthenticated.
func (i *Issuer) Verify(token, wantKind string) (*Claims, error) {
	var tc tokenClaims
	parsed, err := jwtlib.ParseWithClaims(token, &tc, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return i.opts.Secret, nil
	}, jwtlib.WithTimeFunc(i.now), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, errs.ErrUnauthenticated.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrUnauthenticated.WrapMsg("invalid token")
	}
	if wantKind != "" && tc.Kind != wantKind {
		return nil, errs.ErrUnauthenticated.WrapMsg("wrong token kind", "kind", tc.Kind)
	}
	if tc.Subject == "" {
		return nil, errs.ErrUnauthenticated.WrapMsg("token has no subject")
	}
	out := &Claims{UserID: tc.Subject, DeviceClass: tc.Device, Kind: tc.Kind}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unsupported alg (use HS256/HS384/HS512)", "alg", alg)
	}
}
