// Package business wires the portal together: storage, identity
// provider, backend credential service, and the HTTP server.
package business

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/login-portal/internal/authsvc"
	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/idp"
	"github.com/openkcm/login-portal/internal/session"
	sessionvalkey "github.com/openkcm/login-portal/internal/session/valkey"
	"github.com/openkcm/login-portal/internal/web"
)

// Main starts the portal server and the session housekeeper.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	portal, closeFn, err := initPortal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the portal: %w", err)
	}

	defer closeFn()

	// errChan is used to capture the first error and shutdown.
	errChan := make(chan error, 1)

	// wg is used to wait for everything to shut down.
	var wg sync.WaitGroup

	// start the portal HTTP server
	wg.Go(func() {
		errChan <- web.StartHTTPServer(ctx, cfg, portal.manager, portal.gate)
	})

	// start the session housekeeper
	wg.Go(func() {
		portal.manager.Housekeep(ctx, cfg.Portal.Housekeeping.Interval, cfg.Portal.Housekeeping.IdleTimeout)
		errChan <- nil
	})

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	// wait for everything to shut down
	wg.Wait()

	return nil
}

type portal struct {
	manager *session.Manager
	gate    *session.Gate
}

func initPortal(ctx context.Context, cfg *config.Config) (_ *portal, closeFn func(), _ error) {
	valkeyClient, err := newValkeyClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	bundle, err := config.LoadBundle(cfg.Portal.BundlePath)
	if err != nil {
		valkeyClient.Close()
		return nil, nil, fmt.Errorf("loading the client bundle: %w", err)
	}

	allowHTTP := strings.HasPrefix(bundle.IssuerURL, "http://")
	provider, err := idp.NewProvider(bundle, cfg.Portal.CallbackURL,
		idp.WithHTTPClient(http.DefaultClient),
		idp.WithAllowHTTPScheme(allowHTTP),
	)
	if err != nil {
		valkeyClient.Close()
		return nil, nil, fmt.Errorf("creating the identity provider client: %w", err)
	}

	credentials, err := authsvc.NewClient(cfg.Portal.AuthService)
	if err != nil {
		valkeyClient.Close()
		return nil, nil, fmt.Errorf("creating the auth service client: %w", err)
	}

	sessionRepo := sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix)
	notifier := session.NewNotifier()

	manager, err := session.NewManager(&cfg.Portal, provider, credentials, sessionRepo, notifier)
	if err != nil {
		valkeyClient.Close()
		return nil, nil, fmt.Errorf("creating the session manager: %w", err)
	}

	slogctx.Info(ctx, "Portal initialised", "issuer", bundle.IssuerURL)

	return &portal{
			manager: manager,
			gate:    session.NewGate(sessionRepo, notifier),
		}, func() {
			valkeyClient.Close()
		}, nil
}

func newValkeyClient(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	})
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
