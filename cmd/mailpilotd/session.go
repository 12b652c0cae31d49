package main

import (
	"context"
	"fmt"
	"log/slog"

	"mailpilot/internal/browser"
	"mailpilot/internal/config"
	"mailpilot/internal/core"
	"mailpilot/internal/oauth"
	"mailpilot/internal/store"
	"mailpilot/internal/trigger"
)

const serviceType = "gmail"

// authenticator runs one full authentication pass against the live browser:
// kick off the connect flow from the application, drive the provider pages,
// exchange the captured code, and persist the resulting tokens. Token sink and
// profile failures are logged but never fail the pass; the browser session is
// authenticated either way.
type authenticator struct {
	flow      *oauth.Flow
	exchanger *oauth.Exchanger
	sink      *store.Store
	account   string
	logger    *slog.Logger
}

func (a *authenticator) Authenticate(ctx context.Context) error {
	if err := a.flow.TriggerFromApp(ctx); err != nil {
		return fmt.Errorf("trigger authorization: %w", err)
	}

	res := a.flow.Run(ctx)
	switch {
	case res.AlreadyAuthenticated:
		a.logger.Info("existing session detected, skipping token exchange")
		return nil
	case res.Code == "":
		return fmt.Errorf("authentication failed: %s", res.Reason)
	}

	artifact, err := a.exchanger.Exchange(ctx, res.Code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	profile, err := a.exchanger.FetchProfile(ctx, artifact.AccessToken)
	if err != nil {
		a.logger.Warn("profile fetch failed", "err", err)
	} else {
		artifact.Profile = profile
	}

	if err := a.persist(ctx, artifact); err != nil {
		a.logger.Warn("token persist failed", "err", err)
	}
	a.logger.Info("authentication completed, tokens stored")
	return nil
}

func (a *authenticator) persist(ctx context.Context, artifact *oauth.Artifact) error {
	if a.sink == nil {
		return nil
	}
	email := a.account
	if artifact.Profile != nil && artifact.Profile.Email != "" {
		email = artifact.Profile.Email
	}
	if email == "" {
		return fmt.Errorf("no account email to key the token by")
	}

	rec := &store.TokenRecord{
		AccountEmail: email,
		ServiceType:  serviceType,
		AccessToken:  artifact.AccessToken,
		TokenType:    artifact.TokenType,
		Active:       true,
	}
	if artifact.RefreshToken != "" {
		rec.RefreshToken = &artifact.RefreshToken
	}
	if artifact.Scope != "" {
		rec.Scope = &artifact.Scope
	}
	if !artifact.Expiry.IsZero() {
		expiry := artifact.Expiry
		rec.ExpiresAt = &expiry
	}
	if artifact.Profile != nil && artifact.Profile.Name != "" {
		rec.ProfileName = &artifact.Profile.Name
	}
	return a.sink.UpsertToken(ctx, rec)
}

// newSessionFactory builds the core.SessionFactory that launches a Chrome
// session and assembles the per-run collaborators around it.
func newSessionFactory(baseCtx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) core.SessionFactory {
	return func(ctx context.Context, opts core.StartOptions, codes <-chan string) (*core.Session, error) {
		bopts := browser.Options{
			Headless:    cfg.Browser.Headless,
			NoSandbox:   cfg.Browser.NoSandbox,
			PageTimeout: cfg.Browser.PageTimeout,
		}
		if opts.Headless != nil {
			bopts.Headless = *opts.Headless
		}

		// The session outlives the start request, so the browser hangs off the
		// daemon context rather than ctx.
		sess, err := browser.NewSession(baseCtx, bopts, logger)
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		credential := cfg.Automation.Credential
		if opts.Credential != "" {
			credential = opts.Credential
		}

		flow := oauth.NewFlow(sess, oauth.FlowConfig{
			BaseURL:           cfg.Automation.BaseURL,
			AccountEmail:      cfg.Automation.AccountEmail,
			Credential:        credential,
			CompletionTimeout: cfg.Automation.OAuthTimeout,
		}, codes, logger)

		auth := &authenticator{
			flow: flow,
			exchanger: oauth.NewExchanger(oauth.ExchangerConfig{
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				RedirectURI:  cfg.OAuth.RedirectURI,
				AuthURL:      cfg.OAuth.AuthURL,
				TokenURL:     cfg.OAuth.TokenURL,
				UserinfoURL:  cfg.OAuth.UserinfoURL,
				Scopes:       cfg.OAuth.Scopes,
			}),
			sink:    st,
			account: cfg.Automation.AccountEmail,
			logger:  logger,
		}

		// Losing the connection mid-cycle is handled by re-running the full
		// authentication pass.
		proc := trigger.NewDriver(sess, cfg.Automation.CycleInterval, auth.Authenticate, logger)

		return &core.Session{
			Auth: auth,
			Proc: proc,
			Screenshot: func(ctx context.Context) ([]byte, error) {
				return sess.Screenshot(ctx)
			},
			Close: sess.Close,
		}, nil
	}
}
