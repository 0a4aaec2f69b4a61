package spider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, target Target) (RawResponse, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(RawResponse), args.Error(1)
}

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, result StepResult) (bool, error) {
	args := m.Called(ctx, result)
	return args.Bool(0), args.Error(1)
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

var jsonParser = ParserFunc(func(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
})

func pageNavigator(limit int) NavigatorFunc {
	return func(prev StepResult) (*Target, error) {
		if prev.Iteration >= limit {
			return nil, nil
		}
		t := NewTarget(fmt.Sprintf("https://example.com/items?page=%d", prev.Iteration+1))
		return &t, nil
	}
}

func body(s string) RawResponse {
	return RawResponse{StatusCode: http.StatusOK, Body: []byte(s)}
}

func newSite(t *testing.T, nav Navigator, store Store) SiteConfig {
	t.Helper()
	behavior := DefaultBehavior()
	behavior.MaxRetries = 3
	cfg, err := NewSiteConfig(SiteConfig{
		Name:      "Example",
		Navigator: nav,
		Parser:    jsonParser,
		Store:     store,
		Behavior:  behavior,
	})
	require.NoError(t, err)
	return cfg
}

func TestNewSiteConfigAppliesDefaults(t *testing.T) {
	cfg, err := NewSiteConfig(SiteConfig{
		Name:      "x",
		Navigator: pageNavigator(1),
		Parser:    jsonParser,
		Store:     &MockStore{},
		Request:   RequestConfig{Method: "post"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, cfg.Request.Method)
	assert.Equal(t, DefaultEncoding, cfg.Request.Encoding)
	assert.Equal(t, DefaultUserAgent, cfg.Request.Headers.Get("User-Agent"))
	assert.Equal(t, DefaultMaxRetries, cfg.Behavior.MaxRetries)
	assert.Equal(t, DefaultRequestTimeout, cfg.Behavior.RequestTimeout)
}

func TestSiteConfigValidate(t *testing.T) {
	base := SiteConfig{
		Name:      "x",
		Navigator: pageNavigator(1),
		Parser:    jsonParser,
		Store:     &MockStore{},
	}
	tests := []struct {
		name   string
		mutate func(*SiteConfig)
	}{
		{"missing name", func(c *SiteConfig) { c.Name = " " }},
		{"missing navigator", func(c *SiteConfig) { c.Navigator = nil }},
		{"missing parser", func(c *SiteConfig) { c.Parser = nil }},
		{"missing store", func(c *SiteConfig) { c.Store = nil }},
		{"bad method", func(c *SiteConfig) { c.Request.Method = "TRACE" }},
		{"negative retries", func(c *SiteConfig) { c.Behavior.MaxRetries = -1 }},
		{"negative delay", func(c *SiteConfig) { c.Behavior.Delay = -time.Second }},
		{"negative retry delay", func(c *SiteConfig) { c.Behavior.RetryDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewSiteConfig(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultIsDone(t *testing.T) {
	tests := []struct {
		name string
		data *ParsedData
		want bool
	}{
		{"no data", nil, true},
		{"nil value", &ParsedData{}, true},
		{"empty array", &ParsedData{Value: []any{}}, true},
		{"object", &ParsedData{Value: map[string]any{"a": 1}}, true},
		{"string", &ParsedData{Value: "abc"}, true},
		{"non-empty array", &ParsedData{Value: []any{1}}, false},
		{"typed slice", &ParsedData{Value: []string{"a"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultIsDone(StepResult{Data: tt.data}))
		})
	}
}

func TestRunnerStopsOnEmptyPageWithoutSaving(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(tg Target) bool { return tg.Primary() == "https://example.com/items?page=1" })).
		Return(body(`[1,2]`), nil).Once()
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(tg Target) bool { return tg.Primary() == "https://example.com/items?page=2" })).
		Return(body(`[]`), nil).Once()

	store := &MockStore{}
	store.On("Save", mock.Anything, mock.MatchedBy(func(r StepResult) bool { return r.Iteration == 0 })).Return(true, nil).Once()

	sleeper := &recordingSleeper{}
	runner, err := NewRunner(newSite(t, pageNavigator(10), store), fetcher, WithSleeper(sleeper))
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopDone, stats.Reason)
	assert.Equal(t, 1, stats.Steps)
	assert.Equal(t, []time.Duration{DefaultDelay}, sleeper.delays)
	fetcher.AssertExpectations(t)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Save", 1)
}

type countingDone struct {
	NavigatorFunc
}

func (countingDone) IsDone(StepResult) bool { return false }

func TestRunnerStopsWhenNavigatorExhausted(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`{"ok":true}`), nil)
	store := &MockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(true, nil)

	runner, err := NewRunner(newSite(t, countingDone{pageNavigator(3)}, store), fetcher, WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, stats.Reason)
	assert.Equal(t, 3, stats.Steps)
	fetcher.AssertNumberOfCalls(t, "Fetch", 3)
	store.AssertNumberOfCalls(t, "Save", 3)
}

func TestRunnerStopsWhenStoreDeclines(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[1]`), nil)
	store := &MockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(false, nil).Once()

	runner, err := NewRunner(newSite(t, pageNavigator(10), store), fetcher, WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopStoreDeclined, stats.Reason)
	assert.Equal(t, 0, stats.Steps)
}

func TestRunnerRetriesRecoverableStep(t *testing.T) {
	recoverable := &FetchError{Kind: KindRecoverable, URL: "u", StatusCode: http.StatusBadGateway}
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(RawResponse{}, recoverable).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[1]`), nil).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[]`), nil).Once()
	store := &MockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(true, nil)

	sleeper := &recordingSleeper{}
	site := newSite(t, pageNavigator(10), store)
	runner, err := NewRunner(site, fetcher, WithSleeper(sleeper))
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retries)
	assert.Equal(t, []time.Duration{site.Behavior.RetryDelay, site.Behavior.Delay}, sleeper.delays)
}

func TestRunnerGivesUpAfterMaxRetries(t *testing.T) {
	recoverable := &FetchError{Kind: KindRecoverable, URL: "u"}
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(RawResponse{}, recoverable)

	sleeper := &recordingSleeper{}
	runner, err := NewRunner(newSite(t, pageNavigator(10), &MockStore{}), fetcher, WithSleeper(sleeper))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsRecoverable(err))
	fetcher.AssertNumberOfCalls(t, "Fetch", 3)
	assert.Len(t, sleeper.delays, 2)
}

func TestRunnerFatalErrorPropagates(t *testing.T) {
	fatal := &FetchError{Kind: KindFatal, URL: "u", StatusCode: http.StatusInternalServerError}
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(RawResponse{}, fatal).Once()

	sleeper := &recordingSleeper{}
	runner, err := NewRunner(newSite(t, pageNavigator(10), &MockStore{}), fetcher, WithSleeper(sleeper))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, fatal)
	assert.Empty(t, sleeper.delays)
}

func TestRunnerStoreErrorIsFatal(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[1]`), nil).Once()
	store := &MockStore{}
	boom := errors.New("disk full")
	store.On("Save", mock.Anything, mock.Anything).Return(false, boom).Once()

	runner, err := NewRunner(newSite(t, pageNavigator(10), store), fetcher, WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestStepNavigatorRetriesParseFailures(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[1,`), nil).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`[1,2]`), nil).Once()

	sleeper := &recordingSleeper{}
	site := newSite(t, pageNavigator(10), &MockStore{})
	nav := NewStepNavigator(site, fetcher, sleeper, nil)

	result, err := nav.AttemptFetch(context.Background(), InitialStep(), 0)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []any{float64(1), float64(2)}, result.Value())
	assert.Equal(t, []time.Duration{site.Behavior.RetryDelay}, sleeper.delays)
	assert.Equal(t, http.MethodGet, result.Target.Method)
	assert.Equal(t, DefaultUserAgent, result.Target.Headers.Get("User-Agent"))
}

func TestStepNavigatorParseFailureExhausted(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(body(`not json`), nil)

	nav := NewStepNavigator(newSite(t, pageNavigator(10), &MockStore{}), fetcher, &recordingSleeper{}, nil)

	_, err := nav.AttemptFetch(context.Background(), InitialStep(), 0)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	fetcher.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestStepNavigatorNilTarget(t *testing.T) {
	fetcher := &MockFetcher{}
	nav := NewStepNavigator(newSite(t, pageNavigator(0), &MockStore{}), fetcher, &recordingSleeper{}, nil)

	result, err := nav.AttemptFetch(context.Background(), InitialStep(), 0)
	require.NoError(t, err)
	assert.Nil(t, result)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRunnerDryRunDoesNotFetch(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	site := newSite(t, pageNavigator(10), store)
	site.DryRun = true

	runner, err := NewRunner(site, fetcher)
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopDryRun, stats.Reason)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRetryPolicyStatusKind(t *testing.T) {
	policy := DefaultRetryPolicy()
	tests := []struct {
		code   int
		kind   ErrorKind
		failed bool
	}{
		{200, KindFatal, false},
		{301, KindFatal, false},
		{404, KindSkippable, true},
		{451, KindSkippable, true},
		{499, KindSkippable, true},
		{429, KindFatal, true},
		{500, KindFatal, true},
		{502, KindRecoverable, true},
		{522, KindRecoverable, true},
	}
	for _, tt := range tests {
		kind, failed := policy.StatusKind(tt.code)
		assert.Equal(t, tt.failed, failed, "status %d", tt.code)
		if tt.failed {
			assert.Equal(t, tt.kind, kind, "status %d", tt.code)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	notFound := fmt.Errorf("wrapped: %w", &FetchError{Kind: KindSkippable, URL: "u", StatusCode: http.StatusNotFound})
	assert.True(t, IsSkippable(notFound))
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsRecoverable(notFound))

	gone := &FetchError{Kind: KindSkippable, URL: "u", StatusCode: http.StatusGone}
	assert.False(t, IsNotFound(gone))

	assert.Equal(t, KindFatal, KindOf(errors.New("plain")))
	assert.False(t, IsSkippable(nil))
}
