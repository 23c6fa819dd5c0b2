package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/credential"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/principal"
)

type fakeVerifier struct {
	users map[string]*principal.Principal
	pass  map[string]string
	calls int
}

func (f *fakeVerifier) Resolve(_ context.Context, identifier string) (string, error) {
	return identifier, nil
}

func (f *fakeVerifier) Verify(_ context.Context, identifier, secret string) (credential.Result, error) {
	f.calls++
	if identifier == "" || secret == "" {
		return credential.Result{Failure: &credential.Failure{Reason: credential.ReasonIncomplete, User: principal.UnknownUser}}, nil
	}
	p, ok := f.users[identifier]
	if !ok {
		return credential.Result{Failure: &credential.Failure{Reason: credential.ReasonIncorrectPassword, User: principal.UnknownUser}}, nil
	}
	if f.pass[identifier] != secret {
		return credential.Result{Failure: &credential.Failure{Reason: credential.ReasonIncorrectPassword, User: identifier}}, nil
	}
	return credential.Result{Principal: p}, nil
}

type fakeThrottle struct {
	limited    bool
	increments int
}

func (f *fakeThrottle) CheckLogin(context.Context, string, string, string) error {
	if f.limited {
		return rate.ErrRateLimited
	}
	return nil
}

func (f *fakeThrottle) IncrementLogin(context.Context, string, string, string) error {
	f.increments++
	return nil
}

var noon = time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

func alice() *principal.Principal {
	return &principal.Principal{ID: "alice@example.com", Kind: principal.KindSystemUser, Enabled: true}
}

func baseDeps(p *principal.Principal) (LoginDeps, *fakeVerifier, *fakeThrottle) {
	v := &fakeVerifier{
		users: map[string]*principal.Principal{p.ID: p},
		pass:  map[string]string{p.ID: "s3cret-pass"},
	}
	th := &fakeThrottle{}
	return LoginDeps{
		Verifier: v,
		Throttle: th,
		Now:      func() time.Time { return noon },
		Location: time.UTC,
	}, v, th
}

func TestRunLoginEstablishesSession(t *testing.T) {
	deps, _, th := baseDeps(alice())
	out, err := RunLogin(context.Background(), LoginRequest{TenantID: "t", Identifier: "alice@example.com", Password: "s3cret-pass", IP: "10.0.0.1"}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateSessionEstablished || out.Principal.ID != "alice@example.com" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if th.increments != 0 {
		t.Fatal("success must not consume throttle budget")
	}
}

func TestRunLoginWrongPasswordRejects(t *testing.T) {
	deps, _, th := baseDeps(alice())
	out, err := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "nope"}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateRejected || out.Rejection.Kind != RejectCredentials {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Rejection.Reason != credential.ReasonIncorrectPassword || out.Rejection.User != "alice@example.com" {
		t.Fatalf("rejection = %+v", out.Rejection)
	}
	if out.Principal != nil {
		t.Fatal("rejected outcome must not carry a principal")
	}
	if th.increments != 1 {
		t.Fatalf("increments = %d", th.increments)
	}
}

func TestRunLoginIncompleteUsesUnknownUser(t *testing.T) {
	deps, _, _ := baseDeps(alice())
	out, _ := RunLogin(context.Background(), LoginRequest{Identifier: "", Password: "x"}, deps)
	if out.Rejection == nil || out.Rejection.Reason != credential.ReasonIncomplete || out.Rejection.User != principal.UnknownUser {
		t.Fatalf("rejection = %+v", out.Rejection)
	}
}

func TestRunLoginRateLimited(t *testing.T) {
	deps, v, th := baseDeps(alice())
	th.limited = true
	out, err := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "s3cret-pass"}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if out.Rejection == nil || out.Rejection.Kind != RejectRateLimited {
		t.Fatalf("outcome = %+v", out)
	}
	if v.calls != 0 {
		t.Fatal("throttled attempt must not reach the verifier")
	}
}

func TestRunLoginLockoutSkipsPasswordCheck(t *testing.T) {
	deps, v, _ := baseDeps(alice())
	dummy := 0
	deps.DummyVerify = func(string) { dummy++ }
	deps.LockoutThreshold = 3
	deps.LockoutWindow = time.Hour
	deps.CountFailures = func(_ context.Context, _, id string, since time.Time) (int, error) {
		if !since.Equal(noon.Add(-time.Hour)) {
			t.Errorf("since = %v", since)
		}
		if id == "alice@example.com" {
			return 3, nil
		}
		return 0, nil
	}

	out, _ := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "s3cret-pass"}, deps)
	if out.Rejection == nil || out.Rejection.Reason != ReasonLocked || out.Rejection.Kind != RejectCredentials {
		t.Fatalf("outcome = %+v", out)
	}
	if v.calls != 0 || dummy != 1 {
		t.Fatalf("verifier calls = %d, dummy = %d", v.calls, dummy)
	}
}

func TestRunLoginSecondFactorPending(t *testing.T) {
	deps, _, _ := baseDeps(alice())
	deps.TwoFactorRequired = func(context.Context, string, *principal.Principal) (bool, error) { return true, nil }
	deps.IssueChallenge = func(_ context.Context, tenantID string, p *principal.Principal) (*otp.Issued, error) {
		return &otp.Issued{ID: "c1", Channel: otp.ChannelApp}, nil
	}
	out, err := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "s3cret-pass"}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateSecondFactorPending || out.Challenge == nil || out.Challenge.ID != "c1" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunLoginBypassesSecondFactorForAllowedIP(t *testing.T) {
	p := alice()
	p.RestrictIP = []string{"192.168.1."}
	deps, _, _ := baseDeps(p)
	deps.BypassTwoFactorForRestrictedIP = true
	deps.TwoFactorRequired = func(context.Context, string, *principal.Principal) (bool, error) { return true, nil }
	deps.IssueChallenge = func(context.Context, string, *principal.Principal) (*otp.Issued, error) {
		t.Fatal("challenge must not be issued")
		return nil, nil
	}
	out, _ := RunLogin(context.Background(), LoginRequest{Identifier: p.ID, Password: "s3cret-pass", IP: "192.168.1.20"}, deps)
	if out.State != StateSessionEstablished {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunLoginDeliveryFailureRejects(t *testing.T) {
	deps, _, _ := baseDeps(alice())
	deps.TwoFactorRequired = func(context.Context, string, *principal.Principal) (bool, error) { return true, nil }
	deps.IssueChallenge = func(context.Context, string, *principal.Principal) (*otp.Issued, error) {
		return nil, otp.ErrDeliveryUnavailable
	}
	out, err := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "s3cret-pass"}, deps)
	if err != nil {
		t.Fatal(err)
	}
	if out.Rejection == nil || out.Rejection.Kind != RejectDelivery {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunLoginBackendErrorPropagates(t *testing.T) {
	deps, _, _ := baseDeps(alice())
	boom := errors.New("redis down")
	deps.TwoFactorRequired = func(context.Context, string, *principal.Principal) (bool, error) { return true, nil }
	deps.IssueChallenge = func(context.Context, string, *principal.Principal) (*otp.Issued, error) { return nil, boom }
	if _, err := RunLogin(context.Background(), LoginRequest{Identifier: "alice@example.com", Password: "s3cret-pass"}, deps); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunLoginPolicyRejections(t *testing.T) {
	p := alice()
	p.RestrictIP = []string{"10.1."}
	deps, _, _ := baseDeps(p)
	out, _ := RunLogin(context.Background(), LoginRequest{Identifier: p.ID, Password: "s3cret-pass", IP: "10.2.0.1"}, deps)
	if out.Rejection == nil || out.Rejection.Reason != ReasonIPNotAllowed || out.Rejection.Kind != RejectPolicy {
		t.Fatalf("outcome = %+v", out)
	}

	p2 := alice()
	p2.LoginAfter = 14
	deps2, _, _ := baseDeps(p2)
	out, _ = RunLogin(context.Background(), LoginRequest{Identifier: p2.ID, Password: "s3cret-pass"}, deps2)
	if out.Rejection == nil || out.Rejection.Reason != ReasonHourNotAllowed {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestCheckIPAllowList(t *testing.T) {
	cases := []struct {
		ip    string
		allow []string
		want  bool
	}{
		{"1.2.3.4", nil, true},
		{"1.2.3.4", []string{"1.2."}, true},
		{"1.2.3.4", []string{"1.3.", " "}, false},
		{"10.0.5.9", []string{"10.0.0.0/16"}, true},
		{"10.1.5.9", []string{"10.0.0.0/16"}, false},
		{"::ffff:10.0.5.9", []string{"10.0.0.0/16"}, true},
		{"not-an-ip", []string{"10.0.0.0/16"}, false},
		{"2001:db8::1", []string{"2001:db8::/32"}, true},
	}
	for _, tc := range cases {
		if got := CheckIPAllowList(tc.ip, tc.allow); got != tc.want {
			t.Errorf("CheckIPAllowList(%q, %v) = %v, want %v", tc.ip, tc.allow, got, tc.want)
		}
	}
}

func TestCheckLoginHours(t *testing.T) {
	cases := []struct {
		hour, before, after int
		want                bool
	}{
		{3, 0, 0, true},
		{18, 17, 0, false},
		{17, 17, 0, true},
		{8, 0, 9, false},
		{9, 0, 9, true},
		{12, 17, 9, true},
	}
	for _, tc := range cases {
		if got := CheckLoginHours(tc.hour, tc.before, tc.after); got != tc.want {
			t.Errorf("CheckLoginHours(%d, %d, %d) = %v, want %v", tc.hour, tc.before, tc.after, got, tc.want)
		}
	}
}

func confirmDeps(p *principal.Principal, verify func(context.Context, string, string) (*otp.Verified, error)) ConfirmDeps {
	return ConfirmDeps{
		VerifyChallenge: verify,
		LoadPrincipal: func(_ context.Context, id string) (*principal.Principal, error) {
			if id == p.ID {
				return p, nil
			}
			return nil, principal.ErrNotFound
		},
		Now: func() time.Time { return noon },
	}
}

func TestRunConfirmOTP(t *testing.T) {
	p := alice()
	ok := func(context.Context, string, string) (*otp.Verified, error) {
		return &otp.Verified{Principal: p.ID, TenantID: "t"}, nil
	}
	out, err := RunConfirmOTP(context.Background(), ConfirmRequest{TenantID: "t", ChallengeID: "c", Principal: p.ID, Code: "123456"}, confirmDeps(p, ok))
	if err != nil || out.State != StateSessionEstablished {
		t.Fatalf("out = %+v, err = %v", out, err)
	}

	for _, e := range []error{otp.ErrInvalidCode, otp.ErrChallengeNotFound, otp.ErrReplay} {
		fail := func(context.Context, string, string) (*otp.Verified, error) { return nil, e }
		out, err := RunConfirmOTP(context.Background(), ConfirmRequest{TenantID: "t", Principal: p.ID}, confirmDeps(p, fail))
		if err != nil || out.Rejection == nil || out.Rejection.Reason != ReasonInvalidOTP {
			t.Fatalf("%v: out = %+v, err = %v", e, out, err)
		}
	}

	out, _ = RunConfirmOTP(context.Background(), ConfirmRequest{TenantID: "other", Principal: p.ID}, confirmDeps(p, ok))
	if out.Rejection == nil || out.Rejection.Kind != RejectOTP {
		t.Fatalf("tenant mismatch must reject: %+v", out)
	}
}

func TestRunConfirmOTPDisabledMeanwhile(t *testing.T) {
	p := alice()
	p.Enabled = false
	ok := func(context.Context, string, string) (*otp.Verified, error) {
		return &otp.Verified{Principal: p.ID, TenantID: "t"}, nil
	}
	out, _ := RunConfirmOTP(context.Background(), ConfirmRequest{TenantID: "t", Principal: p.ID}, confirmDeps(p, ok))
	if out.Rejection == nil || out.Rejection.Kind != RejectCredentials {
		t.Fatalf("out = %+v", out)
	}
}

type fakeSessions struct {
	log []string
}

func (f *fakeSessions) DeleteSession(_ context.Context, _, sid, reason string) error {
	f.log = append(f.log, "delete:"+sid+":"+reason)
	return nil
}

func (f *fakeSessions) ClearAllFor(_ context.Context, _, p, keep, reason string) (int, error) {
	f.log = append(f.log, "clear:"+p+":"+keep+":"+reason)
	return 2, nil
}

func TestRunLogoutSelf(t *testing.T) {
	s := &fakeSessions{}
	deps := LogoutDeps{
		Sessions: s,
		RunHooks: func(_ context.Context, _, p string) error {
			s.log = append(s.log, "hook:"+p)
			return nil
		},
	}
	res, err := RunLogout(context.Background(), LogoutRequest{RequesterSession: "sid1", RequesterPrincipal: "alice"}, deps)
	if err != nil || !res.Self {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	want := []string{"hook:alice", "delete:sid1:" + ReasonManualLogout}
	if len(s.log) != 2 || s.log[0] != want[0] || s.log[1] != want[1] {
		t.Fatalf("log = %v", s.log)
	}
}

func TestRunLogoutOtherPrincipal(t *testing.T) {
	s := &fakeSessions{}
	res, err := RunLogout(context.Background(), LogoutRequest{RequesterSession: "sid1", RequesterPrincipal: "Administrator", Target: "bob"}, LogoutDeps{Sessions: s})
	if err != nil || res.Self || res.Removed != 2 {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if len(s.log) != 1 || s.log[0] != "clear:bob::"+ReasonForcedLogout {
		t.Fatalf("log = %v", s.log)
	}
}

func TestRunLogoutHookFailureStopsDeletion(t *testing.T) {
	s := &fakeSessions{}
	boom := errors.New("hook failed")
	_, err := RunLogout(context.Background(), LogoutRequest{RequesterSession: "sid1", RequesterPrincipal: "alice"}, LogoutDeps{
		Sessions: s,
		RunHooks: func(context.Context, string, string) error { return boom },
	})
	if !errors.Is(err, boom) || len(s.log) != 0 {
		t.Fatalf("err = %v, log = %v", err, s.log)
	}
}
