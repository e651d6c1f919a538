package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/dispatch"
	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/store/memory"
)

type published struct {
	channel    string
	payload    events.Payload
	adminsOnly bool
}

// recordingPublisher captures every Publish call.
type recordingPublisher struct {
	mu    sync.Mutex
	items []published
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, p events.Payload, opts ...dispatch.Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, published{channel: channel, payload: p, adminsOnly: dispatch.ResolveOptions(opts...).AdminsOnly})
}

func (r *recordingPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.items...)
}

func (r *recordingPublisher) named(name string) []published {
	var out []published
	for _, p := range r.all() {
		if p.payload.EventName() == name {
			out = append(out, p)
		}
	}
	return out
}

func (r *recordingPublisher) reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

var errChainDown = errors.New("chain unavailable")

func failingTokenizer() Tokenizer {
	return TokenizerFunc(func(context.Context, *model.Loan) (model.TokenRef, error) {
		return model.TokenRef{}, errChainDown
	})
}

type fixture struct {
	svc   *Service
	store *memory.Store
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	_ = st.PutUser(ctx, &model.User{ID: "A1", Role: model.RoleAdmin})
	_ = st.PutUser(ctx, &model.User{ID: "U1", Role: model.RoleUser})
	_ = st.PutUser(ctx, &model.User{ID: "U2", Role: model.RoleUser})

	pub := &recordingPublisher{}
	svc := New(st, pub, opts...)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: st, pub: pub}
}

// seedLoan stores a loan owned by U1 directly in the given status.
func (f *fixture) seedLoan(t *testing.T, id string, status model.LoanStatus) *model.Loan {
	t.Helper()
	l := &model.Loan{
		ID: id, UserID: "U1", Amount: 1000, InterestRate: 10, TermMonths: 12,
		Purpose: "equipment", Collateral: "deed", Status: status,
		RemainingBalance: 1100,
	}
	switch status {
	case model.LoanRejected:
		l.RejectionReason = "seeded"
	case model.LoanApproved, model.LoanActive, model.LoanCompleted, model.LoanDefaulted:
		l.ApprovedBy = "A1"
	}
	if err := f.store.CreateLoan(context.Background(), l); err != nil {
		t.Fatalf("seeding loan: %v", err)
	}
	return l
}

func TestTransition_LegalPairsTable(t *testing.T) {
	for _, from := range model.AllLoanStatuses {
		for _, to := range model.AllLoanStatuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				f := newFixture(t, WithTokenizer(failingTokenizer()))
				seeded := f.seedLoan(t, "L1", from)

				meta := Metadata{RejectionReason: "too risky", Token: &model.TokenRef{NFTID: "nft-1", TxHash: "0x01"}}
				got, err := f.svc.Transition(context.Background(), "L1", to, "A1", meta)
				f.svc.Wait()

				if model.CanTransition(from, to) {
					if err != nil {
						t.Fatalf("legal transition failed: %v", err)
					}
					if got.Status != to {
						t.Fatalf("status = %s, want %s", got.Status, to)
					}
					return
				}

				var it *model.IllegalTransition
				if !errors.As(err, &it) {
					t.Fatalf("expected *model.IllegalTransition, got %v", err)
				}
				stored, _ := f.store.GetLoan(context.Background(), "L1")
				if stored.Status != seeded.Status || stored.RejectionReason != seeded.RejectionReason ||
					stored.ApprovedBy != seeded.ApprovedBy || stored.TotalRepaid != seeded.TotalRepaid {
					t.Errorf("illegal transition mutated loan: %+v", stored)
				}
				if n := len(f.pub.all()); n != 0 {
					t.Errorf("illegal transition published %d events", n)
				}
			})
		}
	}
}

func TestTransition_RejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanPending)

	_, err := f.svc.Transition(context.Background(), "L1", model.LoanRejected, "A1", Metadata{})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *model.ValidationError, got %v", err)
	}
	if len(f.pub.all()) != 0 {
		t.Error("rejection without reason emitted events")
	}
	stored, _ := f.store.GetLoan(context.Background(), "L1")
	if stored.Status != model.LoanPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}

	got, err := f.svc.Transition(context.Background(), "L1", model.LoanRejected, "A1", Metadata{RejectionReason: "income unverified"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.RejectionReason != "income unverified" {
		t.Errorf("reason = %q", got.RejectionReason)
	}
	ev := f.pub.named(events.EventLoanStatus)
	if len(ev) != 1 || ev[0].payload.(events.LoanStatusChanged).RejectionReason != "income unverified" {
		t.Errorf("rejection events = %+v", ev)
	}
}

func TestTransition_Authorization(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanPending)
	f.seedLoan(t, "L2", model.LoanActive)
	ctx := context.Background()

	for _, actor := range []string{"U1", "U2", "ghost", "", systemName} {
		_, err := f.svc.Transition(ctx, "L1", model.LoanApproved, actor, Metadata{})
		var ua *model.Unauthorized
		if !errors.As(err, &ua) {
			t.Errorf("approve by %q: expected *model.Unauthorized, got %v", actor, err)
		}
	}

	// Legality is checked before authorization.
	_, err := f.svc.Transition(ctx, "L1", model.LoanCompleted, "U1", Metadata{})
	var it *model.IllegalTransition
	if !errors.As(err, &it) {
		t.Errorf("illegal pair by non-admin: expected *model.IllegalTransition, got %v", err)
	}

	// Authorization is checked before metadata.
	_, err = f.svc.Transition(ctx, "L1", model.LoanRejected, "U1", Metadata{})
	var ua *model.Unauthorized
	if !errors.As(err, &ua) {
		t.Errorf("reject by non-admin without reason: expected *model.Unauthorized, got %v", err)
	}

	if _, err := f.svc.transitionAs(ctx, "L2", model.LoanDefaulted, systemActor, Metadata{}); !errors.As(err, &ua) {
		t.Errorf("default by system: expected *model.Unauthorized, got %v", err)
	}
	if _, err := f.svc.transitionAs(ctx, "L2", model.LoanCompleted, systemActor, Metadata{}); err != nil {
		t.Errorf("complete by system: %v", err)
	}
	if len(f.pub.named(events.EventLoanStatus)) != 1 {
		t.Errorf("expected only the completion event, got %+v", f.pub.all())
	}
}

func TestTransition_UserNamedSystemHasNoPrivileges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// The server records every authenticated subject, so a token with
	// sub "system" ends up as an ordinary user.
	_ = f.store.PutUser(ctx, &model.User{ID: systemName, Role: model.RoleUser})
	f.seedLoan(t, "L1", model.LoanApproved)
	f.seedLoan(t, "L2", model.LoanActive)

	var ua *model.Unauthorized
	token := &model.TokenRef{NFTID: "nft-x", TxHash: "0xff"}
	if _, err := f.svc.Transition(ctx, "L1", model.LoanActive, systemName, Metadata{Token: token}); !errors.As(err, &ua) {
		t.Errorf("fund: expected *model.Unauthorized, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, "L2", model.LoanCompleted, systemName, Metadata{}); !errors.As(err, &ua) {
		t.Errorf("complete: expected *model.Unauthorized, got %v", err)
	}
	if _, err := f.svc.ApplyRepayment(ctx, "L2", 10, systemName); !errors.As(err, &ua) {
		t.Errorf("repay someone else's loan: expected *model.Unauthorized, got %v", err)
	}

	for id, want := range map[string]model.LoanStatus{"L1": model.LoanApproved, "L2": model.LoanActive} {
		l, _ := f.store.GetLoan(ctx, id)
		if l.Status != want || l.TotalRepaid != 0 {
			t.Errorf("%s = %+v, want untouched %s", id, l, want)
		}
	}
	if n := len(f.pub.all()); n != 0 {
		t.Errorf("refused calls published %d events", n)
	}
}

func TestTransition_FundingRequiresToken(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanApproved)
	ctx := context.Background()

	var ve *model.ValidationError
	if _, err := f.svc.Transition(ctx, "L1", model.LoanActive, "A1", Metadata{}); !errors.As(err, &ve) {
		t.Fatalf("fund without token: expected *model.ValidationError, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, "L1", model.LoanActive, "A1", Metadata{Token: &model.TokenRef{NFTID: "nft-1"}}); !errors.As(err, &ve) {
		t.Fatalf("fund without tx hash: expected *model.ValidationError, got %v", err)
	}
	stored, _ := f.store.GetLoan(ctx, "L1")
	if stored.Status != model.LoanApproved || stored.Token != nil {
		t.Errorf("refused funding mutated loan: %+v", stored)
	}
	if len(f.pub.named(events.EventLoanFunded)) != 0 {
		t.Error("loan:funded published without a token")
	}

	loan, err := f.svc.Transition(ctx, "L1", model.LoanActive, "A1", Metadata{Token: &model.TokenRef{NFTID: "nft-1", TxHash: "0x01"}})
	if err != nil {
		t.Fatalf("fund with token: %v", err)
	}
	if loan.Token == nil || loan.Token.TxHash != "0x01" {
		t.Errorf("funded loan = %+v", loan)
	}
	funded := f.pub.named(events.EventLoanFunded)
	if len(funded) != 2 || funded[0].payload.(events.LoanFunded).TxHash != "0x01" {
		t.Errorf("funded events = %+v", funded)
	}
}

func TestRetryTokenization_RefusesWhileRunning(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls sync.Mutex
	n := 0
	tok := TokenizerFunc(func(ctx context.Context, l *model.Loan) (model.TokenRef, error) {
		calls.Lock()
		n++
		calls.Unlock()
		started <- struct{}{}
		<-release
		return LocalTokenizer{}.Tokenize(ctx, l)
	})
	f := newFixture(t, WithTokenizer(tok))
	f.seedLoan(t, "L1", model.LoanPending)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, "L1", model.LoanApproved, "A1", Metadata{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tokenization did not start")
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.RetryTokenization(ctx, "L1", "A1"); !errors.Is(err, model.ErrConflict) {
			t.Errorf("retry %d while running: expected ErrConflict, got %v", i, err)
		}
	}

	close(release)
	f.svc.Wait()

	calls.Lock()
	defer calls.Unlock()
	if n != 1 {
		t.Errorf("tokenizer called %d times, want 1", n)
	}
	loan, _ := f.store.GetLoan(ctx, "L1")
	if loan.Status != model.LoanActive {
		t.Errorf("status = %s, want active", loan.Status)
	}
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Transition(context.Background(), "nope", model.LoanApproved, "A1", Metadata{}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmit_PublishesAnnouncements(t *testing.T) {
	f := newFixture(t)
	loan, err := f.svc.Submit(context.Background(), "U1", LoanRequest{
		Amount: 2500, InterestRate: 8, TermMonths: 6, Purpose: "stock", Collateral: "nft:7",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if loan.Status != model.LoanPending || loan.RemainingBalance != 2700 {
		t.Errorf("submitted loan = %+v", loan)
	}

	got := f.pub.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].channel != "user:U1" || got[0].payload.EventName() != events.EventLoanRequestSubmitted {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].channel != model.ChannelLoans || got[1].payload.EventName() != events.EventLoanNew || got[1].adminsOnly {
		t.Errorf("event 1 = %+v", got[1])
	}
	n, ok := got[2].payload.(events.AdminNotification)
	if !ok || !got[2].adminsOnly || n.Type != events.NotifyLoanRequest {
		t.Errorf("event 2 = %+v", got[2])
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "U1", LoanRequest{Amount: -1, TermMonths: 1})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *model.ValidationError, got %v", err)
	}
	if len(f.pub.all()) != 0 {
		t.Error("invalid submission emitted events")
	}
}

func TestApproveThenTokenize_Funds(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanPending)

	if _, err := f.svc.Transition(context.Background(), "L1", model.LoanApproved, "A1", Metadata{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.svc.Wait()

	loan, _ := f.store.GetLoan(context.Background(), "L1")
	if loan.Status != model.LoanActive || loan.Token == nil || loan.Token.NFTID == "" {
		t.Fatalf("loan after tokenization = %+v", loan)
	}
	if loan.ApprovedBy != "A1" {
		t.Errorf("approved_by = %q", loan.ApprovedBy)
	}

	funded := f.pub.named(events.EventLoanFunded)
	if len(funded) != 2 || funded[0].channel != "user:U1" || funded[1].channel != model.ChannelLoans {
		t.Errorf("funded events = %+v", funded)
	}
	if p := funded[0].payload.(events.LoanFunded); p.NFTID != loan.Token.NFTID || p.TxHash != loan.Token.TxHash {
		t.Errorf("funded payload = %+v", p)
	}
	mu := f.pub.named(events.EventMarketplaceUpdate)
	if len(mu) != 1 || mu[0].payload.(events.MarketplaceUpdate).Type != events.UpdateNewListing {
		t.Errorf("marketplace events = %+v", mu)
	}
}

func TestTokenizationFailure_StaysApprovedAndRetry(t *testing.T) {
	var fail sync.Mutex
	failing := true
	tok := TokenizerFunc(func(ctx context.Context, l *model.Loan) (model.TokenRef, error) {
		fail.Lock()
		defer fail.Unlock()
		if failing {
			return model.TokenRef{}, errChainDown
		}
		return LocalTokenizer{}.Tokenize(ctx, l)
	})
	f := newFixture(t, WithTokenizer(tok))
	f.seedLoan(t, "L1", model.LoanPending)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, "L1", model.LoanApproved, "A1", Metadata{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.svc.Wait()

	loan, _ := f.store.GetLoan(ctx, "L1")
	if loan.Status != model.LoanApproved || loan.TokenizationError != errChainDown.Error() {
		t.Fatalf("loan after failed tokenization = %+v", loan)
	}
	alerts := f.pub.named(events.EventAdminNotification)
	if len(alerts) != 1 || !alerts[0].adminsOnly || alerts[0].payload.(events.AdminNotification).Type != events.NotifySystemAlert {
		t.Fatalf("alerts = %+v", alerts)
	}
	if len(f.pub.named(events.EventLoanFunded)) != 0 {
		t.Fatal("funded emitted despite failure")
	}

	var ua *model.Unauthorized
	if _, err := f.svc.RetryTokenization(ctx, "L1", "U1"); !errors.As(err, &ua) {
		t.Fatalf("retry by user: expected *model.Unauthorized, got %v", err)
	}

	fail.Lock()
	failing = false
	fail.Unlock()

	if _, err := f.svc.RetryTokenization(ctx, "L1", "A1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.svc.Wait()

	loan, _ = f.store.GetLoan(ctx, "L1")
	if loan.Status != model.LoanActive || loan.TokenizationError != "" || loan.Token == nil {
		t.Fatalf("loan after retry = %+v", loan)
	}

	var it *model.IllegalTransition
	if _, err := f.svc.RetryTokenization(ctx, "L1", "A1"); !errors.As(err, &it) {
		t.Fatalf("retry on active loan: expected *model.IllegalTransition, got %v", err)
	}
}

func TestApplyRepayment(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanActive)
	ctx := context.Background()

	loan, err := f.svc.ApplyRepayment(ctx, "L1", 600, "U1")
	if err != nil {
		t.Fatalf("partial repayment: %v", err)
	}
	if loan.Status != model.LoanActive || loan.TotalRepaid != 600 || loan.RemainingBalance != 500 {
		t.Fatalf("after partial = %+v", loan)
	}

	var ve *model.ValidationError
	if _, err := f.svc.ApplyRepayment(ctx, "L1", 0, "U1"); !errors.As(err, &ve) {
		t.Errorf("zero amount: expected *model.ValidationError, got %v", err)
	}
	if _, err := f.svc.ApplyRepayment(ctx, "L1", 501, "U1"); !errors.As(err, &ve) {
		t.Errorf("overpayment: expected *model.ValidationError, got %v", err)
	}
	var ua *model.Unauthorized
	if _, err := f.svc.ApplyRepayment(ctx, "L1", 10, "U2"); !errors.As(err, &ua) {
		t.Errorf("stranger: expected *model.Unauthorized, got %v", err)
	}

	loan, err = f.svc.ApplyRepayment(ctx, "L1", 500, "A1")
	if err != nil {
		t.Fatalf("final repayment: %v", err)
	}
	if loan.Status != model.LoanCompleted || loan.RemainingBalance != 0 || loan.TotalRepaid != 1100 {
		t.Fatalf("after final = %+v", loan)
	}

	repayments := f.pub.named(events.EventMarketplaceUpdate)
	if len(repayments) != 2 {
		t.Errorf("expected 2 repayment updates, got %d", len(repayments))
	}
	status := f.pub.named(events.EventLoanStatus)
	if len(status) != 1 || status[0].payload.(events.LoanStatusChanged).Status != model.LoanCompleted {
		t.Errorf("completion events = %+v", status)
	}

	var it *model.IllegalTransition
	if _, err := f.svc.ApplyRepayment(ctx, "L1", 1, "U1"); !errors.As(err, &it) {
		t.Errorf("repay completed loan: expected *model.IllegalTransition, got %v", err)
	}
}

func TestDefault_AlertsAdmins(t *testing.T) {
	f := newFixture(t)
	f.seedLoan(t, "L1", model.LoanActive)

	if _, err := f.svc.Transition(context.Background(), "L1", model.LoanDefaulted, "A1", Metadata{}); err != nil {
		t.Fatalf("default: %v", err)
	}
	got := f.pub.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %+v", got)
	}
	if got[0].channel != "user:U1" || got[0].payload.(events.LoanStatusChanged).Status != model.LoanDefaulted {
		t.Errorf("event 0 = %+v", got[0])
	}
	if n, ok := got[1].payload.(events.AdminNotification); !ok || n.Type != events.NotifySystemAlert || !got[1].adminsOnly {
		t.Errorf("event 1 = %+v", got[1])
	}
}

func TestConcurrentApproveAndReject(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, WithTokenizer(failingTokenizer()))
		f.seedLoan(t, "L1", model.LoanPending)

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		targets := [2]model.LoanStatus{model.LoanApproved, model.LoanRejected}
		for j := range targets {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = f.svc.Transition(context.Background(), "L1", targets[j], "A1", Metadata{RejectionReason: "race"})
			}(j)
		}
		wg.Wait()
		f.svc.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			var it *model.IllegalTransition
			if !errors.As(err, &it) || it.From == string(model.LoanPending) {
				t.Fatalf("loser failed with %v, want IllegalTransition from the winner's status", err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("iteration %d: %d transitions succeeded", i, succeeded)
		}
		if f.svc.loanLocks.size() != 0 {
			t.Fatal("keyed locks leaked")
		}
	}
}

func TestKYC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.SubmitKYC(ctx, "U1")
	if err != nil || rec.Status != model.KYCPending {
		t.Fatalf("SubmitKYC = %+v, %v", rec, err)
	}
	notes := f.pub.named(events.EventAdminNotification)
	if len(notes) != 1 || notes[0].payload.(events.AdminNotification).Type != events.NotifyKYCSubmission || !notes[0].adminsOnly {
		t.Fatalf("kyc submission notice = %+v", notes)
	}

	var it *model.IllegalTransition
	if _, err := f.svc.SubmitKYC(ctx, "U1"); !errors.As(err, &it) {
		t.Fatalf("duplicate submit: expected *model.IllegalTransition, got %v", err)
	}

	var ua *model.Unauthorized
	if _, err := f.svc.TransitionKYC(ctx, "U1", model.KYCApproved, "U2", Metadata{}); !errors.As(err, &ua) {
		t.Fatalf("review by user: expected *model.Unauthorized, got %v", err)
	}
	var ve *model.ValidationError
	if _, err := f.svc.TransitionKYC(ctx, "U1", model.KYCRejected, "A1", Metadata{}); !errors.As(err, &ve) {
		t.Fatalf("reject without reason: expected *model.ValidationError, got %v", err)
	}
	if _, err := f.svc.TransitionKYC(ctx, "U1", model.KYCPending, "A1", Metadata{}); !errors.As(err, &it) {
		t.Fatalf("pending -> pending: expected *model.IllegalTransition, got %v", err)
	}

	f.pub.reset()
	rec, err = f.svc.TransitionKYC(ctx, "U1", model.KYCApproved, "A1", Metadata{})
	if err != nil {
		t.Fatalf("approve kyc: %v", err)
	}
	if rec.ReviewedBy != "A1" || rec.ReviewedAt == nil {
		t.Errorf("reviewed record = %+v", rec)
	}
	got := f.pub.all()
	if len(got) != 1 || got[0].channel != "user:U1" || got[0].payload.(events.KYCStatusChanged).Status != model.KYCApproved {
		t.Fatalf("kyc events = %+v", got)
	}

	if _, err := f.svc.TransitionKYC(ctx, "U1", model.KYCRejected, "A1", Metadata{RejectionReason: "late"}); !errors.As(err, &it) {
		t.Fatalf("approved -> rejected: expected *model.IllegalTransition, got %v", err)
	}
	if _, err := f.svc.TransitionKYC(ctx, "U2", model.KYCApproved, "A1", Metadata{}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing record: expected ErrNotFound, got %v", err)
	}

	if _, err := f.svc.GetKYC(ctx, "U1", "U2"); !errors.As(err, &ua) {
		t.Errorf("GetKYC by stranger: expected *model.Unauthorized, got %v", err)
	}
	if _, err := f.svc.GetKYC(ctx, "U1", "U1"); err != nil {
		t.Errorf("GetKYC by owner: %v", err)
	}
}

func TestGetAndListLoans_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLoan(t, "L1", model.LoanPending)
	other := &model.Loan{ID: "L2", UserID: "U2", Amount: 5, TermMonths: 1, Status: model.LoanPending, CreatedAt: time.Now()}
	_ = f.store.CreateLoan(ctx, other)

	var ua *model.Unauthorized
	if _, err := f.svc.GetLoan(ctx, "L1", "U2"); !errors.As(err, &ua) {
		t.Errorf("GetLoan by stranger: expected *model.Unauthorized, got %v", err)
	}
	if _, err := f.svc.GetLoan(ctx, "L1", "A1"); err != nil {
		t.Errorf("GetLoan by admin: %v", err)
	}

	mine, _ := f.svc.ListLoans(ctx, model.LoanFilter{}, "U2")
	if len(mine) != 1 || mine[0].ID != "L2" {
		t.Errorf("ListLoans for U2 = %d loans", len(mine))
	}
	all, _ := f.svc.ListLoans(ctx, model.LoanFilter{}, "A1")
	if len(all) != 2 {
		t.Errorf("ListLoans for admin = %d loans", len(all))
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	var k keyedMutex
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("L1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d", maxSeen)
	}
	if k.size() != 0 {
		t.Errorf("locks left = %d", k.size())
	}
}
