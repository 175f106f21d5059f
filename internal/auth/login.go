package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// SessionLogin obtains session tokens by exchanging a broker request token.
// The request token itself comes from the broker's interactive login flow,
// which an operator completes out of band; RequestToken is consulted on every
// login so a refreshed value is picked up without a restart.
type SessionLogin struct {
	gateway      domain.BrokerGateway
	requestToken func() string
}

// NewSessionLogin creates a SessionLogin. requestToken is called per login
// attempt and may return an empty string when no token has been provisioned.
func NewSessionLogin(gateway domain.BrokerGateway, requestToken func() string) *SessionLogin {
	return &SessionLogin{gateway: gateway, requestToken: requestToken}
}

var _ domain.LoginProvider = (*SessionLogin)(nil)

// Login exchanges the current request token for a session token.
func (l *SessionLogin) Login(ctx context.Context, cred domain.Credential) (domain.SessionToken, error) {
	rt := strings.TrimSpace(l.requestToken())
	if rt == "" {
		return domain.SessionToken{}, fmt.Errorf("auth: no request token provisioned for %s: %w", cred.ID, domain.ErrNoToken)
	}

	st, err := l.gateway.GenerateSession(ctx, cred.APIKey, rt, cred.Secret)
	if err != nil {
		return domain.SessionToken{}, fmt.Errorf("auth: generate session for %s: %w", cred.ID, err)
	}
	return st, nil
}
