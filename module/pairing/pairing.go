// Package pairing lets a secondary device obtain credentials by having a
// signed-in primary device approve a short-lived QR challenge.
//
//	pending --Authorize--> authorized --Redeem--> redeemed
//	   \                      \
//	    `------ TTL ------------`--> expired
//
// Every transition is a compare-and-set in the store, so at most one
// authorize and one redeem can win per challenge.
package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	pairingmodel "PPLink/module/pairing/model"
	pairingstore "PPLink/module/pairing/store"
	usermodel "PPLink/module/user/model"
	"PPLink/tools/clock"
	"PPLink/tools/errs"
	"PPLink/tools/ids"
	"PPLink/tools/safe"
	"PPLink/tools/security"

	"go.uber.org/zap"
)

// PayloadPrefix marks a scanned QR code as a pairing payload.
const PayloadPrefix = "pplink:pair:"

// Device classes carried in minted credentials. Only a primary device may
// approve a pairing; redeemed devices are always secondary.
const (
	DevicePrimary   = "primary"
	DeviceSecondary = "secondary"
)

const (
	DefaultTTL        = 2 * time.Minute
	defaultTokenBytes = 24
)

// UserDirectory resolves the authorizing user's public profile.
type UserDirectory interface {
	PublicProfile(ctx context.Context, userID string) (*usermodel.PublicProfile, error)
}

// CredentialIssuer mints the session handed to a redeemed device.
type CredentialIssuer interface {
	Issue(userID, deviceClass string) (security.Credentials, error)
}

type Config struct {
	TTL        time.Duration
	TokenBytes int
	Clock      clock.Clock
	IDs        ids.Generator
	Log        *zap.Logger
}

func (c *Config) norm() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.TokenBytes <= 0 {
		c.TokenBytes = defaultTokenBytes
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.IDs == nil {
		c.IDs = ids.UUID{}
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

type Service struct {
	store pairingstore.Store
	users UserDirectory
	creds CredentialIssuer
	conf  Config
	log   *zap.Logger
}

func NewService(store pairingstore.Store, users UserDirectory, creds CredentialIssuer, conf Config) *Service {
	conf.norm()
	return &Service{
		store: store,
		users: users,
		creds: creds,
		conf:  conf,
		log:   conf.Log.Named("pairing"),
	}
}

// Redemption is what a secondary device receives once.
type Redemption struct {
	Credentials security.Credentials    `json:"credentials"`
	Profile     usermodel.PublicProfile `json:"profile"`
}

// Issue creates a pending challenge.
func (s *Service) Issue(ctx context.Context) (*pairingmodel.Issued, error) {
	token, err := ids.RandomToken(s.conf.TokenBytes)
	if err != nil {
		return nil, errs.ErrInternal.WrapMsg(err.Error(), "op", "random token")
	}
	now := s.conf.Clock.Now()
	c := &pairingmodel.Challenge{
		ID:        s.conf.IDs.New(),
		Token:     token,
		State:     pairingmodel.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.conf.TTL),
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Debug("challenge issued", zap.String("challenge_id", c.ID), zap.Time("expires_at", c.ExpiresAt))
	return &pairingmodel.Issued{
		ChallengeID: c.ID,
		Payload:     PayloadPrefix + token,
		ExpiresAt:   c.ExpiresAt,
	}, nil
}

// TokenFromPayload accepts either the full scanned payload or the bare token.
func TokenFromPayload(payload string) string {
	return strings.TrimPrefix(strings.TrimSpace(payload), PayloadPrefix)
}

// Authorize approves the challenge behind payload on behalf of userID.
// deviceClass is the class in the caller's credential and must be primary,
// so a paired device cannot approve further pairings.
func (s *Service) Authorize(ctx context.Context, payload, userID, deviceClass string) (string, error) {
	if userID == "" {
		return "", errs.ErrUnauthenticated.WrapMsg("authorize requires a signed-in user")
	}
	if deviceClass != DevicePrimary {
		return "", errs.ErrUnauthenticated.WrapMsg("authorize requires a primary device credential", "device", deviceClass)
	}
	token := TokenFromPayload(payload)
	if token == "" {
		return "", errs.ErrArgs.WrapMsg("empty pairing payload")
	}
	if _, err := s.users.PublicProfile(ctx, userID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrUnauthenticated.WrapMsg("unknown user", "user_id", userID)
		}
		return "", err
	}

	now := s.conf.Clock.Now()
	c, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if c.Expired(now) {
		return "", errs.ErrNotFound.WrapMsg("pairing challenge expired")
	}
	if c.State != pairingmodel.StatePending {
		return "", errs.ErrAlreadyAuthorized.WrapMsg("challenge not pending", "challenge_id", c.ID)
	}

	if _, err := s.store.CompareAndSwap(ctx, c.ID, pairingmodel.StatePending, pairingmodel.StateAuthorized, userID, now); err != nil {
		if isStateMismatch(err) {
			return "", errs.ErrAlreadyAuthorized.WrapMsg("challenge not pending", "challenge_id", c.ID)
		}
		return "", err
	}
	s.log.Info("challenge authorized", zap.String("challenge_id", c.ID), zap.String("user_id", userID))
	return c.ID, nil
}

// CheckStatus is the read-only poll used by the waiting secondary device.
// A redeemed challenge reads as expired.
func (s *Service) CheckStatus(ctx context.Context, challengeID string) (*pairingmodel.StatusView, error) {
	c, err := s.store.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	view := &pairingmodel.StatusView{
		ChallengeID: c.ID,
		State:       c.EffectiveState(s.conf.Clock.Now()),
		ExpiresAt:   c.ExpiresAt,
	}
	switch view.State {
	case pairingmodel.StateRedeemed:
		view.State = pairingmodel.StateExpired
	case pairingmodel.StateAuthorized:
		p, err := s.users.PublicProfile(ctx, c.AuthorizingUserID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		view.AuthorizedBy = p
	}
	return view, nil
}

// Redeem consumes an authorized challenge and mints the secondary device's
// credentials. The state change happens before minting so racing callers
// can never both obtain a credential.
func (s *Service) Redeem(ctx context.Context, challengeID string) (*Redemption, error) {
	now := s.conf.Clock.Now()
	c, err := s.store.CompareAndSwap(ctx, challengeID, pairingmodel.StateAuthorized, pairingmodel.StateRedeemed, "", now)
	if err != nil {
		if isStateMismatch(err) {
			// redeemed and never-authorized look the same to the caller
			return nil, errs.ErrNotAuthorized.WrapMsg("challenge not authorized", "challenge_id", challengeID)
		}
		return nil, err
	}

	creds, err := s.creds.Issue(c.AuthorizingUserID, DeviceSecondary)
	if err != nil {
		s.log.Error("mint credentials failed after redeem", zap.String("challenge_id", c.ID), zap.Error(err))
		return nil, errs.ErrTransient.WrapMsg("credential issue failed", "challenge_id", c.ID)
	}

	out := &Redemption{Credentials: creds, Profile: usermodel.PublicProfile{UserID: c.AuthorizingUserID}}
	if p, err := s.users.PublicProfile(ctx, c.AuthorizingUserID); err == nil {
		out.Profile = *p
	} else {
		s.log.Warn("profile lookup failed on redeem", zap.String("user_id", c.AuthorizingUserID), zap.Error(err))
	}
	s.log.Info("challenge redeemed", zap.String("challenge_id", c.ID), zap.String("user_id", c.AuthorizingUserID))
	return out, nil
}

// Purge deletes lapsed challenges from the store.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.store.Purge(ctx, s.conf.Clock.Now())
}

// RunPurger calls Purge every interval until ctx is done.
func (s *Service) RunPurger(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.Go(s.log, "pairing-purge", func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := s.Purge(ctx)
				if err != nil {
					s.log.Warn("purge failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.log.Debug("purged expired challenges", zap.Int64("count", n))
				}
			}
		}
	})
}

func isStateMismatch(err error) bool {
	ce := errs.Code(err)
	return ce != nil && ce.Code == errs.InvalidStateError
}
