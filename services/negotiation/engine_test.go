package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	negotiationRepo "haggle/database/repository/negotiation"
	"haggle/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*DefaultNegotiationService, negotiationRepo.Repository) {
	t.Helper()
	repo := negotiationRepo.NewMemoryNegotiationRepo()
	svc := &DefaultNegotiationService{
		Repo:   repo,
		Money:  NewMoneyPolicy(0.03, "usd", FlatRateTax(0.16)),
		Logger: zap.NewNop(),
	}
	return svc, repo
}

func listingRef() ProposalRef {
	return ProposalRef{
		ServiceID:  "svc-1",
		ProviderID: "provider-1",
		ClientID:   "client-1",
		ListPrice:  1000,
	}
}

func TestProposeCreatesSessionLazily(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 1000, "listed price stands")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, sess.Status)
	assert.Equal(t, float64(1000), sess.InitialPrice)
	assert.Equal(t, float64(1000), sess.CurrentPrice)
	assert.Equal(t, int64(1), sess.Version)
	require.Len(t, sess.Messages, 1)
	require.NotNil(t, sess.Messages[0].ProposedPrice)
	assert.Equal(t, float64(1000), *sess.Messages[0].ProposedPrice)
	assert.Nil(t, sess.FinalPrice)
}

func TestProposeBelowListPriceStartsCountered(t *testing.T) {
	svc, _ := newTestService(t)

	sess, err := svc.Propose(context.Background(), "client-1", listingRef(), 850, "budget constraint")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCountered, sess.Status)
	assert.Equal(t, float64(850), sess.CurrentPrice)
}

func TestProposeReusesOpenSessionForPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Propose(ctx, "provider-1", listingRef(), 1000, "")
	require.NoError(t, err)

	second, err := svc.Propose(ctx, "client-1", listingRef(), 900, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "second proposal must land on the open session, not duplicate it")
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, float64(900), second.CurrentPrice)
}

func TestProposeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Propose(ctx, "client-1", listingRef(), -5, "")
	assert.True(t, IsCode(err, CodeInvalidPrice))

	_, err = svc.Propose(ctx, "client-1", listingRef(), 0, "")
	assert.True(t, IsCode(err, CodeInvalidPrice))

	_, err = svc.Propose(ctx, "stranger", listingRef(), 500, "")
	assert.True(t, IsCode(err, CodeForbidden))
}

func TestCounterTurnEnforcement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "client-1", listingRef(), 850, "")
	require.NoError(t, err)

	// The client just offered; they may not counter themselves.
	_, err = svc.Counter(ctx, "client-1", sess.ID, 800, "")
	assert.True(t, IsCode(err, CodeOutOfTurn))

	// The provider may.
	updated, err := svc.Counter(ctx, "provider-1", sess.ID, 925, "")
	require.NoError(t, err)
	assert.Equal(t, float64(925), updated.CurrentPrice)
	assert.Equal(t, models.StatusCountered, updated.Status)
}

func TestAcceptLocksFinalPriceOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 925, "")
	require.NoError(t, err)

	agreed, err := svc.Accept(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAgreed, agreed.Status)
	require.NotNil(t, agreed.FinalPrice)
	assert.Equal(t, float64(925), *agreed.FinalPrice)

	// A second accept must not move the final price.
	_, err = svc.Accept(ctx, "provider-1", sess.ID)
	assert.True(t, IsCode(err, CodeAlreadyResolved))
}

func TestAcceptTurnAndEmptyOfferRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "client-1", listingRef(), 850, "")
	require.NoError(t, err)

	// The author of the outstanding offer cannot accept it.
	_, err = svc.Accept(ctx, "client-1", sess.ID)
	assert.True(t, IsCode(err, CodeOutOfTurn))

	// A session with no priced offer has nothing to accept.
	bare := &models.NegotiationSession{
		ID:           uuid.New().String(),
		ServiceID:    "svc-2",
		ProviderID:   "provider-1",
		ClientID:     "client-2",
		InitialPrice: 500,
		CurrentPrice: 500,
		Status:       models.StatusPending,
	}
	_, err = repo.Create(ctx, bare)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, "client-2", bare.ID)
	assert.True(t, IsCode(err, CodeNothingToAccept))
}

func TestRejectIsTerminal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "client-1", listingRef(), 850, "")
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, "provider-1", sess.ID, "not worth my time")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	before, err := repo.Get(ctx, sess.ID)
	require.NoError(t, err)

	for name, call := range map[string]func() error{
		"reject":  func() error { _, err := svc.Reject(ctx, "client-1", sess.ID, ""); return err },
		"accept":  func() error { _, err := svc.Accept(ctx, "client-1", sess.ID); return err },
		"counter": func() error { _, err := svc.Counter(ctx, "provider-1", sess.ID, 700, ""); return err },
	} {
		err := call()
		assert.True(t, IsCode(err, CodeAlreadyResolved), "%s on rejected session", name)
	}

	// No stored field may have changed as a result of the failed calls.
	after, err := repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CurrentPrice, after.CurrentPrice)
	assert.Len(t, after.Messages, len(before.Messages))
}

func TestCompleteRequiresAgreed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 925, "")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, sess.ID, "pi_test")
	assert.True(t, IsCode(err, CodeNotAgreed))

	_, err = svc.Accept(ctx, "client-1", sess.ID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, sess.ID, "pi_test")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, "pi_test", done.PaymentRef)

	_, err = svc.Complete(ctx, sess.ID, "pi_again")
	assert.True(t, IsCode(err, CodeAlreadyResolved))
}

func TestSendMessageAppendsWithoutTransition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "client-1", listingRef(), 850, "")
	require.NoError(t, err)

	updated, err := svc.SendMessage(ctx, "provider-1", sess.ID, "can you do 900?")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCountered, updated.Status)
	assert.Equal(t, float64(850), updated.CurrentPrice)
	assert.Len(t, updated.Messages, 2)
	assert.Nil(t, updated.Messages[1].ProposedPrice)

	_, err = svc.SendMessage(ctx, "provider-1", sess.ID, "   ")
	assert.True(t, IsCode(err, CodeInvalidMessage))
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 925, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, "client-1", sess.ID)
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case IsCode(err, CodeAlreadyResolved) || IsCode(err, CodeConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	final, err := svc.Get(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAgreed, final.Status)
	require.NotNil(t, final.FinalPrice)
	assert.Equal(t, float64(925), *final.FinalPrice)
}

func TestAcceptConflictsWhenOfferReplacedMidFlight(t *testing.T) {
	store := &interceptStore{Repository: negotiationRepo.NewMemoryNegotiationRepo()}
	svc := &DefaultNegotiationService{
		Repo:   store,
		Money:  NewMoneyPolicy(0.03, "usd", FlatRateTax(0.16)),
		Logger: zap.NewNop(),
	}
	ctx := context.Background()

	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 925, "")
	require.NoError(t, err)

	// The provider replaces their open offer in the window between the
	// client's read of 925 and the client's conditional write.
	ref := listingRef()
	ref.SessionID = sess.ID
	store.beforeWrite = func() {
		_, err := svc.Propose(ctx, "provider-1", ref, 950, "raising a little")
		require.NoError(t, err)
	}

	_, err = svc.Accept(ctx, "client-1", sess.ID)
	assert.True(t, IsCode(err, CodeConcurrentModification),
		"accepting a replaced offer must surface a conflict, got %v", err)

	// The session stays open at the new price; nothing was agreed.
	current, err := svc.Get(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCountered, current.Status)
	assert.Equal(t, float64(950), current.CurrentPrice)
	assert.Nil(t, current.FinalPrice)
}

func TestFullBargainingScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Session starts pending at the listed price of 1000.
	sess, err := svc.Propose(ctx, "provider-1", listingRef(), 1000, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, sess.Status)

	// Client counters to 850.
	sess, err = svc.Counter(ctx, "client-1", sess.ID, 850, "budget constraint")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCountered, sess.Status)
	assert.Equal(t, float64(850), sess.CurrentPrice)

	// Provider counters to 925.
	sess, err = svc.Counter(ctx, "provider-1", sess.ID, 925, "")
	require.NoError(t, err)
	assert.Equal(t, float64(925), sess.CurrentPrice)

	// Client accepts.
	sess, err = svc.Accept(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAgreed, sess.Status)
	require.NotNil(t, sess.FinalPrice)
	assert.Equal(t, float64(925), *sess.FinalPrice)

	// Fee math at 3%.
	quote, err := svc.Quote(ctx, "client-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 27.75, quote.Fee)
	assert.Equal(t, 952.75, quote.GrossTotal)
	assert.InDelta(t, quote.GrossTotal+quote.TaxAmount, quote.NetPayable, 0.005)

	// Payment confirmation completes the session.
	sess, err = svc.Complete(ctx, sess.ID, "pi_scenario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status)
}

func TestStoreTimeoutSurfacesAsUnavailable(t *testing.T) {
	repo := &stalledStore{}
	svc := &DefaultNegotiationService{
		Repo:         repo,
		Money:        NewMoneyPolicy(0.03, "usd", FlatRateTax(0.16)),
		Logger:       zap.NewNop(),
		StoreTimeout: 20 * time.Millisecond,
	}

	_, err := svc.Accept(context.Background(), "client-1", "sess-1")
	assert.True(t, IsCode(err, CodeStoreUnavailable))
}

// interceptStore runs a one-shot hook right before a conditional write, to
// stage competing writes in the window between a read and its write-back.
type interceptStore struct {
	negotiationRepo.Repository
	beforeWrite func()
}

func (s *interceptStore) ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	if hook := s.beforeWrite; hook != nil {
		s.beforeWrite = nil
		hook()
	}
	return s.Repository.ConditionalWrite(ctx, expectedVersion, session)
}

// stalledStore blocks until the per-call context gives up.
type stalledStore struct{}

func (s *stalledStore) Get(ctx context.Context, sessionID string) (*models.NegotiationSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) FindOpen(ctx context.Context, serviceID, clientID string) (*models.NegotiationSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) ListByParticipant(ctx context.Context, participantID string) ([]models.NegotiationSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) Create(ctx context.Context, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) ConditionalWrite(ctx context.Context, expectedVersion int64, session *models.NegotiationSession) (*models.NegotiationSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) Subscribe(ctx context.Context, sessionID string) (<-chan models.NegotiationEvent, negotiationRepo.Unsubscribe, error) {
	return nil, nil, ctx.Err()
}
