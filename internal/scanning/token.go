package scanning

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/zombor/invoice-tracker/internal/apperror"
	"github.com/zombor/invoice-tracker/internal/metrics"
)

// RefreshMargin is how long before expiry a cached token stops being used
const RefreshMargin = 3600 * time.Second

// TokenManager hands out access tokens, caching them in the config store.
// It keeps no token state of its own, so concurrent refreshes are harmless:
// each produces a valid token and the last write wins.
type TokenManager struct {
	client *Client
	store  ConfigStore
	now    func() time.Time
}

// NewTokenManager creates a TokenManager using the wall clock
func NewTokenManager(client *Client, store ConfigStore) *TokenManager {
	return NewTokenManagerWithClock(client, store, time.Now)
}

// NewTokenManagerWithClock creates a TokenManager with a custom clock for testing
func NewTokenManagerWithClock(client *Client, store ConfigStore, now func() time.Time) *TokenManager {
	return &TokenManager{
		client: client,
		store:  store,
		now:    now,
	}
}

// AccessToken returns the cached token while it is outside the refresh
// margin, and fetches a new one otherwise
func (m *TokenManager) AccessToken(ctx context.Context, apiKey, secretKey string) (string, error) {
	token, ok, err := m.cachedToken()
	if err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		return "", err
	}
	if ok {
		metrics.TokenRequests.WithLabelValues("cache_hit").Inc()
		return token, nil
	}
	return m.Refresh(ctx, apiKey, secretKey)
}

func (m *TokenManager) cachedToken() (string, bool, error) {
	token, hasToken, err := m.store.GetConfig(KeyAccessToken)
	if err != nil {
		return "", false, apperror.Wrap(apperror.KindPersistence, "reading cached token", err)
	}
	expires, hasExpiry, err := m.store.GetConfig(KeyTokenExpires)
	if err != nil {
		return "", false, apperror.Wrap(apperror.KindPersistence, "reading cached token expiry", err)
	}
	if !hasToken || !hasExpiry || token == "" {
		return "", false, nil
	}

	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		slog.Warn("Ignoring unparsable token expiry", "value", expires, "error", err)
		return "", false, nil
	}

	if m.now().Unix() < expiresAt-int64(RefreshMargin/time.Second) {
		return token, true, nil
	}
	return "", false, nil
}

// Refresh fetches a new token regardless of the cache and stores it.
// A token that cannot be stored fails the whole refresh.
func (m *TokenManager) Refresh(ctx context.Context, apiKey, secretKey string) (string, error) {
	token, expiresIn, err := m.client.RequestToken(ctx, apiKey, secretKey)
	if err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		slog.Error("Failed to refresh OCR access token", "error", err)
		return "", err
	}

	expiresAt := m.now().Unix() + expiresIn
	if err := m.store.SetConfig(KeyAccessToken, token, "Baidu OCR access token"); err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		return "", apperror.Wrap(apperror.KindPersistence, "caching access token", err)
	}
	if err := m.store.SetConfig(KeyTokenExpires, strconv.FormatInt(expiresAt, 10), "Access token expiry (unix seconds)"); err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		return "", apperror.Wrap(apperror.KindPersistence, "caching access token expiry", err)
	}

	metrics.TokenRequests.WithLabelValues("refreshed").Inc()
	slog.Info("Refreshed OCR access token", "expires_at", time.Unix(expiresAt, 0).UTC())
	return token, nil
}
