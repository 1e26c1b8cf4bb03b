package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/licensing/application/commands"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/queries"
	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) Handle(ctx context.Context, cmd commands.CreateLicenceCommand) (*commands.CreateLicenceResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commands.CreateLicenceResult), args.Error(1)
}

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) Handle(ctx context.Context, query queries.GetLicenceQuery) (*domain.Licence, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Licence), args.Error(1)
}

type apiFixture struct {
	creator *mockCreator
	finder  *mockFinder
	metrics *observability.InMemoryMetrics
	handler http.Handler
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		creator: new(mockCreator),
		finder:  new(mockFinder),
		metrics: observability.NewInMemoryMetrics(),
	}
	licences := NewLicenceHandler(f.creator, f.finder, f.metrics, nil)
	f.handler = NewServer(DefaultServerConfig(), licences, nil, f.metrics, nil).Handler()
	return f
}

func (f *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestCreateLicence_Created(t *testing.T) {
	f := newAPIFixture()
	f.creator.On("Handle", mock.Anything, commands.CreateLicenceCommand{Email: "ann@example.com", Source: "api"}).
		Return(&commands.CreateLicenceResult{LicenceID: "doc-1", Email: "ann@example.com"}, nil)

	rec := f.do(http.MethodPost, "/api/v1/licences", `{"email":"ann@example.com"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var body LicenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, LicenceResponse{LicenceID: "doc-1", Email: "ann@example.com"}, body)
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricLicencesCreated))
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricHTTPRequests,
		observability.T("method", "POST"), observability.T("status", "201")))
}

func TestCreateLicence_ErrorMapping(t *testing.T) {
	exhausted := fmt.Errorf("%w after 5 attempts: %w", database.ErrRetriesExhausted, database.ErrOCCConflict)

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantTitle string
	}{
		{"validation", domain.ErrInvalidEmail, http.StatusBadRequest, "ValidationError"},
		{"missing email", domain.ErrEmailRequired, http.StatusBadRequest, "ValidationError"},
		{"already exists", domain.ErrLicenceAlreadyExists, http.StatusConflict, "LicenceAlreadyExists"},
		{"anomaly", fmt.Errorf("%w: 2 licences", domain.ErrLedgerAnomaly), http.StatusInternalServerError, "LedgerAnomaly"},
		{"retries exhausted", domain.NewStoreError("create licence", exhausted), http.StatusServiceUnavailable, "LedgerContention"},
		{"store failure", domain.NewStoreError("create licence", errors.New("disk full")), http.StatusInternalServerError, "StoreError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			f.creator.On("Handle", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := f.do(http.MethodPost, "/api/v1/licences", `{"email":"ann@example.com"}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.wantCode, p.Status)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.NotEmpty(t, p.Detail)
		})
	}
}

func TestCreateLicence_StoreDetailsAreNotLeaked(t *testing.T) {
	f := newAPIFixture()
	f.creator.On("Handle", mock.Anything, mock.Anything).
		Return(nil, domain.NewStoreError("create licence", errors.New("password authentication failed")))

	rec := f.do(http.MethodPost, "/api/v1/licences", `{"email":"ann@example.com"}`)

	assert.NotContains(t, rec.Body.String(), "password")
}

func TestCreateLicence_ContentionSetsRetryAfter(t *testing.T) {
	f := newAPIFixture()
	f.creator.On("Handle", mock.Anything, mock.Anything).
		Return(nil, domain.NewStoreError("create licence", database.ErrRetriesExhausted))

	rec := f.do(http.MethodPost, "/api/v1/licences", `{"email":"ann@example.com"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCreateLicence_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "email=ann@example.com"},
		{"unknown field", `{"email":"ann@example.com","plan":"pro"}`},
		{"wrong type", `{"email":42}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()

			rec := f.do(http.MethodPost, "/api/v1/licences", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "MalformedRequest", decodeProblem(t, rec).Title)
			f.creator.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
		})
	}
}

func TestGetLicence(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		f := newAPIFixture()
		f.finder.On("Handle", mock.Anything, queries.GetLicenceQuery{Email: "bo@example.com"}).
			Return(&domain.Licence{LicenceID: "doc-9", Email: "bo@example.com"}, nil)

		rec := f.do(http.MethodGet, "/api/v1/licences?email=bo@example.com", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var body LicenceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "doc-9", body.LicenceID)
	})

	t.Run("not found", func(t *testing.T) {
		f := newAPIFixture()
		f.finder.On("Handle", mock.Anything, mock.Anything).Return(nil, domain.ErrLicenceNotFound)

		rec := f.do(http.MethodGet, "/api/v1/licences?email=nobody@example.com", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "LicenceNotFound", decodeProblem(t, rec).Title)
	})

	t.Run("missing email", func(t *testing.T) {
		f := newAPIFixture()
		f.finder.On("Handle", mock.Anything, queries.GetLicenceQuery{}).Return(nil, domain.ErrEmailRequired)

		rec := f.do(http.MethodGet, "/api/v1/licences", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Health(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body observability.OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, observability.HealthStatusHealthy, body.Status)
}

func TestServer_PropagatesCorrelationID(t *testing.T) {
	f := newAPIFixture()
	f.finder.On("Handle", mock.MatchedBy(func(ctx context.Context) bool {
		return observability.CorrelationIDFromContext(ctx) == "corr-1"
	}), mock.Anything).Return(&domain.Licence{LicenceID: "doc-1", Email: "cy@example.com"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/licences?email=cy@example.com", nil)
	req.Header.Set(HeaderCorrelationID, "corr-1")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get(HeaderCorrelationID))
	f.finder.AssertExpectations(t)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodDelete, "/api/v1/licences", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
