package pairing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pairingmodel "PPLink/module/pairing/model"
	pairingstore "PPLink/module/pairing/store"
	"PPLink/module/user"
	usermodel "PPLink/module/user/model"
	"PPLink/tools/clock"
	"PPLink/tools/errs"
	"PPLink/tools/security"
)

type countingIssuer struct {
	n   atomic.Int32
	err error
}

func (c *countingIssuer) Issue(userID, deviceClass string) (security.Credentials, error) {
	if c.err != nil {
		return security.Credentials{}, c.err
	}
	c.n.Add(1)
	return security.Credentials{AccessToken: "access-" + userID, RefreshToken: "refresh-" + userID}, nil
}

func newTestService(t *testing.T) (*Service, *clock.Stub, *countingIssuer) {
	t.Helper()
	clk := clock.Fixed()
	dir := user.NewMemoryDirectory(usermodel.User{UserID: "U1", Nickname: "Alice"})
	iss := &countingIssuer{}
	svc := NewService(pairingstore.NewMemory(), dir, iss, Config{TTL: 2 * time.Minute, Clock: clk})
	return svc, clk, iss
}

func TestPairingEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, iss := newTestService(t)

	issued, err := svc.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	st, err := svc.CheckStatus(ctx, issued.ChallengeID)
	if err != nil || st.State != pairingmodel.StatePending {
		t.Fatalf("CheckStatus() = %+v, %v; want pending", st, err)
	}

	id, err := svc.Authorize(ctx, issued.Payload, "U1", DevicePrimary)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if id != issued.ChallengeID {
		t.Errorf("Authorize() id = %q, want %q", id, issued.ChallengeID)
	}

	st, err = svc.CheckStatus(ctx, issued.ChallengeID)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if st.State != pairingmodel.StateAuthorized || st.AuthorizedBy == nil || st.AuthorizedBy.Nickname != "Alice" {
		t.Errorf("CheckStatus() = %+v, want authorized by Alice", st)
	}

	red, err := svc.Redeem(ctx, issued.ChallengeID)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if red.Credentials.AccessToken != "access-U1" || red.Profile.UserID != "U1" {
		t.Errorf("Redeem() = %+v", red)
	}

	_, err = svc.Redeem(ctx, issued.ChallengeID)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Errorf("second Redeem() error = %v, want not authorized", err)
	}
	if iss.n.Load() != 1 {
		t.Errorf("minted %d credentials, want 1", iss.n.Load())
	}

	st, err = svc.CheckStatus(ctx, issued.ChallengeID)
	if err != nil || st.State != pairingmodel.StateExpired {
		t.Errorf("CheckStatus() after redeem = %+v, %v; want expired", st, err)
	}
}

func TestRedeemBeforeAuthorize(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	issued, _ := svc.Issue(ctx)

	_, err := svc.Redeem(ctx, issued.ChallengeID)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("Redeem() error = %v, want not authorized", err)
	}
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Error("not authorized must belong to the invalid-state class")
	}
}

func TestAuthorizeTwice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	issued, _ := svc.Issue(ctx)

	if _, err := svc.Authorize(ctx, issued.Payload, "U1", DevicePrimary); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	_, err := svc.Authorize(ctx, TokenFromPayload(issued.Payload), "U1", DevicePrimary)
	if !errors.Is(err, errs.ErrAlreadyAuthorized) {
		t.Errorf("second Authorize() error = %v, want already authorized", err)
	}
}

func TestAuthorizeRejects(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	issued, _ := svc.Issue(ctx)

	tests := []struct {
		name    string
		payload string
		user    string
		device  string
		want    error
	}{
		{"anonymous", issued.Payload, "", DevicePrimary, errs.ErrUnauthenticated},
		{"secondary device", issued.Payload, "U1", DeviceSecondary, errs.ErrUnauthenticated},
		{"no device claim", issued.Payload, "U1", "", errs.ErrUnauthenticated},
		{"unknown user", issued.Payload, "ghost", DevicePrimary, errs.ErrUnauthenticated},
		{"unknown token", PayloadPrefix + "nope", "U1", DevicePrimary, errs.ErrNotFound},
		{"empty payload", "  ", "U1", DevicePrimary, errs.ErrArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authorize(ctx, tt.payload, tt.user, tt.device)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExpiredChallengeBehavesAsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, clk, _ := newTestService(t)

	issued, _ := svc.Issue(ctx)
	clk.Advance(2*time.Minute + time.Second)
	if _, err := svc.Authorize(ctx, issued.Payload, "U1", DevicePrimary); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Authorize() on expired = %v, want not found", err)
	}
	st, err := svc.CheckStatus(ctx, issued.ChallengeID)
	if err != nil || st.State != pairingmodel.StateExpired {
		t.Errorf("CheckStatus() = %+v, %v; want expired", st, err)
	}

	authorized, _ := svc.Issue(ctx)
	if _, err := svc.Authorize(ctx, authorized.Payload, "U1", DevicePrimary); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	clk.Advance(3 * time.Minute)
	if _, err := svc.Redeem(ctx, authorized.ChallengeID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Redeem() on expired = %v, want not found", err)
	}

	n, err := svc.Purge(ctx)
	if err != nil || n != 2 {
		t.Errorf("Purge() = %d, %v; want 2", n, err)
	}
	if _, err := svc.CheckStatus(ctx, issued.ChallengeID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("CheckStatus() after purge = %v, want not found", err)
	}
}

func TestConcurrentRedeemMintsOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, iss := newTestService(t)
	issued, _ := svc.Issue(ctx)
	if _, err := svc.Authorize(ctx, issued.Payload, "U1", DevicePrimary); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	const callers = 32
	var (
		wg       sync.WaitGroup
		okCount  atomic.Int32
		badCount atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Redeem(ctx, issued.ChallengeID)
			switch {
			case err == nil:
				okCount.Add(1)
			case errors.Is(err, errs.ErrNotAuthorized):
				badCount.Add(1)
			default:
				t.Errorf("Redeem() unexpected error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if okCount.Load() != 1 || badCount.Load() != callers-1 {
		t.Errorf("ok=%d rejected=%d, want 1/%d", okCount.Load(), badCount.Load(), callers-1)
	}
	if iss.n.Load() != 1 {
		t.Errorf("minted %d credentials, want 1", iss.n.Load())
	}
}

func TestRedeemMintFailureConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	svc, _, iss := newTestService(t)
	issued, _ := svc.Issue(ctx)
	_, _ = svc.Authorize(ctx, issued.Payload, "U1", DevicePrimary)

	iss.err = errors.New("signer down")
	if _, err := svc.Redeem(ctx, issued.ChallengeID); !errors.Is(err, errs.ErrTransient) {
		t.Fatalf("Redeem() error = %v, want transient", err)
	}
	iss.err = nil
	if _, err := svc.Redeem(ctx, issued.ChallengeID); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Errorf("retry Redeem() error = %v, want not authorized", err)
	}
}

func TestSecondaryCannotAuthorize(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	issued, _ := svc.Issue(ctx)

	if _, err := svc.Authorize(ctx, issued.Payload, "U1", DeviceSecondary); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("secondary Authorize() error = %v, want unauthenticated", err)
	}
	st, err := svc.CheckStatus(ctx, issued.ChallengeID)
	if err != nil || st.State != pairingmodel.StatePending {
		t.Errorf("challenge after rejected authorize = %+v, %v; want still pending", st, err)
	}
}
