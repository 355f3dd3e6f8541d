package onedrive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"drivecast/internal"
	"drivecast/utils"
)

// DefaultScopes are requested on every refresh-token exchange
var DefaultScopes = []string{"offline_access", "Files.Read.All"}

// defaultExpiryDelta treats a token as expired slightly before the backend
// would, so a request never leaves with a token about to lapse
const defaultExpiryDelta = 30 * time.Second

// CredentialState describes the lifecycle of the access token
type CredentialState int

const (
	StateExpired CredentialState = iota
	StateValid
	StateRefreshing
)

func (s CredentialState) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	default:
		return "expired"
	}
}

// CredentialConfig configures a CredentialManager
type CredentialConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Tenant       string

	// TokenURL overrides the tenant's token endpoint
	TokenURL string
	Scopes   []string

	HTTPClient  *utils.HTTPClient
	Logger      *internal.SecureLogger
	ExpiryDelta time.Duration
	Now         func() time.Time
}

// CredentialManager owns the access token and the rotating refresh token.
// Readers share the lock; a refresh takes it exclusively and re-checks
// expiry, so concurrent callers that observe the same expired token cause
// exactly one exchange.
type CredentialManager struct {
	oauth       *oauth2.Config
	httpClient  *utils.HTTPClient
	logger      *internal.SecureLogger
	expiryDelta time.Duration
	now         func() time.Time

	mutex        sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	refreshing atomic.Bool
	exchanges  atomic.Int64
}

// NewCredentialManager creates a manager holding only a refresh token. Call
// Login, or let the first EnsureFresh perform the initial exchange.
func NewCredentialManager(cfg CredentialConfig) (*CredentialManager, error) {
	if cfg.ClientID == "" {
		return nil, internal.NewConfigError("client_id", "client id is required")
	}
	if cfg.RefreshToken == "" {
		return nil, internal.NewConfigError("refresh_token", "refresh token is required")
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}
	expiryDelta := cfg.ExpiryDelta
	if expiryDelta == 0 {
		expiryDelta = defaultExpiryDelta
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &CredentialManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient:   httpClient,
		logger:       logger,
		expiryDelta:  expiryDelta,
		now:          now,
		refreshToken: cfg.RefreshToken,
	}, nil
}

// Login performs an exchange regardless of the current expiry
func (m *CredentialManager) Login(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.exchangeLocked(ctx)
}

// EnsureFresh makes sure a valid access token is installed, exchanging the
// refresh token if it has expired
func (m *CredentialManager) EnsureFresh(ctx context.Context) error {
	m.mutex.RLock()
	valid := m.validLocked()
	m.mutex.RUnlock()
	if valid {
		return nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Another caller may have refreshed while we waited for the lock
	if m.validLocked() {
		return nil
	}
	return m.exchangeLocked(ctx)
}

// AccessToken returns a currently valid access token
func (m *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		return "", err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.accessToken, nil
}

// State reports the current credential state
func (m *CredentialManager) State() CredentialState {
	if m.refreshing.Load() {
		return StateRefreshing
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.validLocked() {
		return StateValid
	}
	return StateExpired
}

// ExpiresAt returns the expiry of the installed access token
func (m *CredentialManager) ExpiresAt() time.Time {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.expiresAt
}

// Exchanges returns how many token exchanges have been attempted
func (m *CredentialManager) Exchanges() int64 {
	return m.exchanges.Load()
}

func (m *CredentialManager) validLocked() bool {
	if m.accessToken == "" || m.expiresAt.IsZero() {
		return false
	}
	return m.now().Before(m.expiresAt.Add(-m.expiryDelta))
}

// exchangeLocked redeems the refresh token. The caller must hold the write
// lock. State is replaced only when the response is complete; on failure the
// previous tokens stay installed.
func (m *CredentialManager) exchangeLocked(ctx context.Context) error {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)
	m.exchanges.Add(1)

	m.logger.Debug("exchanging refresh token")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient.StandardClient())
	token, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			msg := "token endpoint rejected the refresh token"
			if retrieveErr.ErrorCode != "" {
				msg = fmt.Sprintf("%s (%s)", msg, retrieveErr.ErrorCode)
			}
			authErr := internal.NewAuthError(msg, err)
			if retrieveErr.Response != nil {
				authErr.WithContext("status", retrieveErr.Response.StatusCode)
			}
			return authErr
		}
		return internal.NewAuthError("token exchange failed", err)
	}

	if token.AccessToken == "" {
		return internal.NewAuthError("token response carried no access token", nil)
	}
	if token.Expiry.IsZero() {
		return internal.NewAuthError("token response carried no expiry", nil)
	}

	m.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	m.expiresAt = token.Expiry

	m.logger.Info("access token refreshed, valid until %s", token.Expiry.Format(time.RFC3339))
	return nil
}
