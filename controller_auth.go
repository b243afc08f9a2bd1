package goSession

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goSession/api"
	"github.com/MrEthical07/goSession/session"
)

// Login signs in and, when Session.RefreshListsOnLogin is set, loads the
// organization list and runs auto-selection. A failed list load is logged
// and does not fail the login.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, EventLogin, MetricLoginSuccess, MetricLoginFailure, func() (*api.AuthResponse, error) {
		return c.api.Login(ctx, email, password)
	})
}

// Register creates an account and signs it in, like Login.
func (c *Controller) Register(ctx context.Context, email, password, name string) error {
	return c.authenticate(ctx, EventRegister, MetricRegisterSuccess, MetricRegisterFailure, func() (*api.AuthResponse, error) {
		return c.api.Register(ctx, email, password, name)
	})
}

func (c *Controller) authenticate(ctx context.Context, typ string, okID, failID MetricID, call func() (*api.AuthResponse, error)) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrControllerClosed
	}

	res, err := call()
	if err == nil && res.User.ID == "" {
		err = fmt.Errorf("%w: auth response has no user", ErrMalformedResponse)
	}
	if err != nil {
		c.metrics.Inc(failID)
		c.emit(ctx, typ, Snapshot{}, err, nil)
		c.log.Debug().Err(err).Str("event", typ).Msg("authentication failed")
		return err
	}

	snap, err := c.commitLogin(ctx, res)
	c.flush()
	if err != nil {
		c.metrics.Inc(failID)
		c.emit(ctx, typ, snap, err, nil)
		return err
	}
	c.metrics.Inc(okID)
	c.emit(ctx, typ, snap, nil, nil)
	c.log.Info().Str("user_id", snap.User.ID).Str("event", typ).Msg("signed in")

	if c.cfg.Session.RefreshListsOnLogin {
		if err := c.RefreshOrganizations(ctx); err != nil {
			c.log.Warn().Err(err).Msg("organization list load after sign-in failed")
		}
	}
	return nil
}

func (c *Controller) commitLogin(ctx context.Context, res *api.AuthResponse) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Snapshot{}, ErrControllerClosed
	}

	prev := c.sel.Get()
	if prev.User != nil && prev.User.ID != res.User.ID {
		if err := c.sel.Clear(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("clear previous selection: %w", err)
		}
	}

	refresh := session.ClearRefresh()
	if res.RefreshToken != nil {
		refresh = session.WithRefresh(*res.RefreshToken)
	}
	user := res.User
	err := c.creds.Set(ctx, res.AccessToken, refresh)
	if err == nil {
		err = c.sel.SetUser(ctx, &user)
	}
	if err != nil {
		// Half-written credentials would restore as a broken session.
		_, terr := c.teardownLocked(ctx)
		return Snapshot{}, errors.Join(fmt.Errorf("persist session: %w", err), terr)
	}

	c.resetListsLocked()
	c.authEpoch++
	c.selGen++
	return c.publishLocked(), nil
}

// Logout clears credentials, selection and lists. In-flight list fetches
// resolve into nothing.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.begin(false); err != nil {
		return err
	}
	prev := c.snapshotLocked()
	changed, err := c.teardownLocked(ctx)
	c.mu.Unlock()
	c.flush()

	if changed {
		c.metrics.Inc(MetricLogout)
		c.emit(ctx, EventLogout, prev, err, nil)
		c.log.Info().Msg("signed out")
	}
	return err
}

// onAuthError runs after the gateway has cleared the credentials. Credentials
// present again by the time mu is held belong to a newer sign-in, which the
// notice does not concern.
func (c *Controller) onAuthError(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	if c.closed || c.creds.Get().Authenticated() {
		c.mu.Unlock()
		return
	}
	prev := c.snapshotLocked()
	changed, err := c.teardownLocked(ctx)
	c.mu.Unlock()
	c.flush()

	if err != nil {
		c.log.Error().Err(err).Msg("clearing expired session failed")
	}
	if changed {
		c.emit(ctx, EventAuthExpired, prev, nil, nil)
		c.log.Info().Msg("session expired")
	}
}

// teardownLocked removes every persisted key and resets memory. It publishes
// only when something was cleared.
func (c *Controller) teardownLocked(ctx context.Context) (changed bool, err error) {
	cred, sel := c.creds.Get(), c.sel.Get()
	changed = cred.Authenticated() || cred.CanRefresh() ||
		sel.User != nil || sel.Organization != nil || sel.Project != nil ||
		c.orgs != nil || c.projects != nil

	err = errors.Join(c.creds.Clear(ctx), c.sel.Clear(ctx))
	c.resetListsLocked()
	c.authEpoch++
	c.selGen++
	if changed {
		c.publishLocked()
	}
	return changed, err
}

func (c *Controller) resetListsLocked() {
	c.orgs = nil
	c.projects = nil
	c.projectsFor = ""
}
