package zerodha

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
)

func TestAuthenticateAcceptsExistingToken(t *testing.T) {
	tr := NewTransport(config.BrokerCredentials{APIKey: "key"})

	token, err := tr.Authenticate(context.Background(), config.BrokerCredentials{AccessToken: "issued"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "issued" {
		t.Errorf("token = %q, want issued", token)
	}
}

func TestAuthenticateWithoutTokenRequiresLogin(t *testing.T) {
	tr := NewTransport(config.BrokerCredentials{APIKey: "key"})

	_, err := tr.Authenticate(context.Background(), config.BrokerCredentials{})
	if !stderrors.Is(err, errors.ErrNotAuthenticated) {
		t.Fatalf("error = %v, want ErrNotAuthenticated", err)
	}
	if !strings.Contains(err.Error(), "kite.trade") {
		t.Errorf("login URL missing from error: %v", err)
	}
}
