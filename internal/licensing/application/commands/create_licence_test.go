package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/outbox"
)

// fakeExecutor runs attempts in process and retries on ErrOCCConflict, the way
// database.Ledger does, without a store.
type fakeExecutor struct {
	maxRetries int
	attempts   int
}

func (e *fakeExecutor) ExecuteInTransaction(ctx context.Context, fn database.AttemptFunc, onRetry database.RetryObserver) error {
	for attempt := 1; ; attempt++ {
		e.attempts++
		err := fn(ctx, nil)
		if err == nil || !errors.Is(err, database.ErrOCCConflict) {
			return err
		}
		if attempt > e.maxRetries {
			return errors.Join(database.ErrRetriesExhausted, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
}

type mockLicenceLedger struct {
	mock.Mock
}

func (m *mockLicenceLedger) CountByEmail(ctx context.Context, txn database.Txn, email string) (int, error) {
	args := m.Called(ctx, txn, email)
	return args.Int(0), args.Error(1)
}

func (m *mockLicenceLedger) Insert(ctx context.Context, txn database.Txn, email string) (string, error) {
	args := m.Called(ctx, txn, email)
	return args.String(0), args.Error(1)
}

func (m *mockLicenceLedger) StampLicenceID(ctx context.Context, txn database.Txn, licenceID, email string) (int, error) {
	args := m.Called(ctx, txn, licenceID, email)
	return args.Int(0), args.Error(1)
}

// mockOutboxRepo is a mock outbox.Writer.
type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) Save(ctx context.Context, msg *outbox.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockOutboxRepo) SaveBatch(ctx context.Context, msgs []*outbox.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, email string) (*domain.Licence, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Licence), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, licence *domain.Licence) error {
	return m.Called(ctx, licence).Error(0)
}

type handlerFixture struct {
	executor *fakeExecutor
	licences *mockLicenceLedger
	outbox   *mockOutboxRepo
	cache    *mockCache
	handler  *CreateLicenceHandler
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		executor: &fakeExecutor{maxRetries: 4},
		licences: new(mockLicenceLedger),
		outbox:   new(mockOutboxRepo),
		cache:    new(mockCache),
	}
	f.handler = NewCreateLicenceHandler(f.executor, f.licences, f.outbox, f.cache, nil)
	return f
}

const email = "alice@example.com"

func TestCreateLicenceHandler_Success(t *testing.T) {
	f := newHandlerFixture()
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Once()
	f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("doc-1", nil).Once()
	f.licences.On("StampLicenceID", mock.Anything, mock.Anything, "doc-1", email).Return(1, nil).Once()
	f.outbox.On("SaveBatch", mock.Anything, mock.MatchedBy(func(msgs []*outbox.Message) bool {
		return len(msgs) == 1 &&
			msgs[0].RoutingKey == domain.RoutingKeyLicenceCreated &&
			msgs[0].AggregateID == "doc-1"
	})).Return(nil).Once()
	f.cache.On("Set", mock.Anything, &domain.Licence{LicenceID: "doc-1", Email: email}).Return(nil).Once()

	result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: "  " + email + " ", Source: "test"})

	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.LicenceID)
	assert.Equal(t, email, result.Email)
	assert.Equal(t, 1, f.executor.attempts)
	f.licences.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
	f.cache.AssertExpectations(t)
}

func TestCreateLicenceHandler_ValidationOpensNoTransaction(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr error
	}{
		{name: "empty", email: "", wantErr: domain.ErrEmailRequired},
		{name: "blank", email: " \t ", wantErr: domain.ErrEmailRequired},
		{name: "malformed", email: "not-an-email", wantErr: domain.ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()

			result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: tt.email})

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Zero(t, f.executor.attempts)
			f.licences.AssertNotCalled(t, "CountByEmail", mock.Anything, mock.Anything, mock.Anything)
			f.outbox.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateLicenceHandler_AlreadyExistsIsNotRetried(t *testing.T) {
	f := newHandlerFixture()
	retries := 0
	f.handler.WithRetryObserver(func(int, error) { retries++ })
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(1, nil).Once()

	result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrLicenceAlreadyExists)
	assert.Equal(t, 1, f.executor.attempts)
	assert.Zero(t, retries)
	f.licences.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateLicenceHandler_ProbeAnomalyDoesNotInsert(t *testing.T) {
	f := newHandlerFixture()
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(2, nil).Once()

	_, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	assert.ErrorIs(t, err, domain.ErrLedgerAnomaly)
	assert.NotErrorIs(t, err, domain.ErrLicenceAlreadyExists)
	f.licences.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	f.outbox.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestCreateLicenceHandler_InsertAnomalyPropagates(t *testing.T) {
	f := newHandlerFixture()
	anomaly := errors.Join(domain.ErrLedgerAnomaly, errors.New("insert returned 2 document ids"))
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Once()
	f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("", anomaly).Once()

	_, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	assert.ErrorIs(t, err, domain.ErrLedgerAnomaly)
	f.licences.AssertNotCalled(t, "StampLicenceID", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Stamping must touch exactly one document; anything else fails the attempt.
func TestCreateLicenceHandler_StampCountOtherThanOneIsAnomaly(t *testing.T) {
	for _, updated := range []int{0, 2} {
		f := newHandlerFixture()
		f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Once()
		f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("doc-1", nil).Once()
		f.licences.On("StampLicenceID", mock.Anything, mock.Anything, "doc-1", email).Return(updated, nil).Once()

		result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

		assert.Nil(t, result, "updated=%d", updated)
		assert.ErrorIs(t, err, domain.ErrLedgerAnomaly, "updated=%d", updated)
		f.outbox.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
		f.cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
	}
}

func TestCreateLicenceHandler_StoreFailureIsWrapped(t *testing.T) {
	f := newHandlerFixture()
	cause := errors.New("connection reset by peer")
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, cause).Once()

	_, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "create licence", storeErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, f.executor.attempts)
}

func TestCreateLicenceHandler_RetriesWholeAttemptOnConflict(t *testing.T) {
	f := newHandlerFixture()
	observed := 0
	f.handler.WithRetryObserver(func(attempt int, err error) {
		observed++
		assert.Equal(t, 1, attempt)
		assert.ErrorIs(t, err, database.ErrOCCConflict)
	})

	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Twice()
	f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("", database.ErrOCCConflict).Once()
	f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("doc-2", nil).Once()
	f.licences.On("StampLicenceID", mock.Anything, mock.Anything, "doc-2", email).Return(1, nil).Once()
	f.outbox.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	f.cache.On("Set", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	require.NoError(t, err)
	assert.Equal(t, "doc-2", result.LicenceID)
	assert.Equal(t, 2, f.executor.attempts)
	assert.Equal(t, 1, observed)
	f.licences.AssertExpectations(t)
}

func TestCreateLicenceHandler_RetriesExhaustedIsStoreError(t *testing.T) {
	f := newHandlerFixture()
	f.executor.maxRetries = 2
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, database.ErrOCCConflict)

	_, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, database.ErrRetriesExhausted)
	assert.True(t, IsRetryableConflict(err))
	assert.Equal(t, 3, f.executor.attempts)
}

func TestCreateLicenceHandler_CacheFailureDoesNotFailCreate(t *testing.T) {
	f := newHandlerFixture()
	f.licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Once()
	f.licences.On("Insert", mock.Anything, mock.Anything, email).Return("doc-1", nil).Once()
	f.licences.On("StampLicenceID", mock.Anything, mock.Anything, "doc-1", email).Return(1, nil).Once()
	f.outbox.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	f.cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	result, err := f.handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.LicenceID)
}

func TestCreateLicenceHandler_OptionalCollaborators(t *testing.T) {
	licences := new(mockLicenceLedger)
	licences.On("CountByEmail", mock.Anything, mock.Anything, email).Return(0, nil).Once()
	licences.On("Insert", mock.Anything, mock.Anything, email).Return("doc-1", nil).Once()
	licences.On("StampLicenceID", mock.Anything, mock.Anything, "doc-1", email).Return(1, nil).Once()
	handler := NewCreateLicenceHandler(&fakeExecutor{}, licences, nil, nil, nil)

	result, err := handler.Handle(context.Background(), CreateLicenceCommand{Email: email})

	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.LicenceID)
	assert.Equal(t, "licensing.create_licence", CreateLicenceCommand{}.CommandName())
}
