package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/connect/internal/analytics"
	"github.com/haasonsaas/connect/internal/api"
	"github.com/haasonsaas/connect/internal/auth"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/internal/storage"
	"github.com/haasonsaas/connect/pkg/models"
)

var (
	// ErrNotReady means no connection has been set or fetched yet.
	ErrNotReady = errors.New("connect: button has no connection")
	// ErrInvalidState means the operation does not apply to the current state.
	ErrInvalidState = errors.New("connect: operation not allowed in current state")
	// ErrCanceled means the call was superseded, cancelled by a gesture or
	// interrupted by the hosting UI's lifecycle. No listener was notified.
	ErrCanceled = errors.New("connect: call canceled")
	// ErrDestroyed means the button was destroyed.
	ErrDestroyed = errors.New("connect: button destroyed")
	// ErrEmailRequired means the flow needs an email and none was given.
	ErrEmailRequired = errors.New("connect: email required")
)

// RedirectTarget is where the user is sent to continue the flow.
type RedirectTarget struct {
	URL string
	// App is true when URL opens the companion app instead of a browser.
	App bool
}

// Redirector opens redirect targets in a browser or the companion app.
type Redirector interface {
	Redirect(ctx context.Context, target RedirectTarget) error
}

// Flusher requests an upload of queued events.
type Flusher interface {
	Trigger(names ...string)
}

// ButtonConfig wires a Button to its collaborators.
type ButtonConfig struct {
	Client       api.Client
	CodeProvider auth.CodeProvider
	Tokens       *auth.TokenStore
	Preferences  *storage.Preferences
	Redirector   Redirector
	Embed        EmbedConfig

	// AppAvailable reports whether the companion app can handle redirects.
	AppAvailable func() bool
	// ReplayOAuthOnReenable runs the full web flow for disabled connections
	// instead of calling the reenable endpoint.
	ReplayOAuthOnReenable bool

	Tracker *analytics.Tracker
	Flusher Flusher
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Button coordinates the authorization flow for one connection and owns the
// Machine that tracks its displayed state.
//
// Each network call runs under a context tied to the button's lifetime and is
// tagged with a generation. Starting another call, CancelGesture,
// OnLifecycleStop and OnLifecycleDestroy advance the generation; a result
// from an older generation is dropped without notifying anyone.
type Button struct {
	client       api.Client
	codes        auth.CodeProvider
	tokens       *auth.TokenStore
	prefs        *storage.Preferences
	redirector   Redirector
	embed        EmbedConfig
	appAvailable func() bool
	replayOAuth  bool
	tracker      *analytics.Tracker
	flusher      Flusher
	logger       *slog.Logger

	machine *Machine
	monitor RedirectMonitor

	lifetime     context.Context
	stopLifetime context.CancelFunc

	mu         sync.Mutex
	gen        uint64
	cancelCall context.CancelFunc
	redirect   *pendingRedirect
	lastFetch  string
	destroyed  bool
}

// pendingRedirect remembers the connection shown before a redirect so the
// button can fall back to it.
type pendingRedirect struct {
	prior *models.Connection
	step  FlowStep
	gen   uint64
}

// NewButton creates a Button. Missing required collaborators are programming
// errors and panic.
func NewButton(config ButtonConfig) *Button {
	if config.Client == nil {
		panic("connect: button requires an api client")
	}
	if config.Redirector == nil {
		panic("connect: button requires a redirector")
	}
	if config.Tokens == nil {
		config.Tokens = auth.NewTokenStore("")
	}
	if config.Preferences == nil {
		config.Preferences = storage.NewPreferences(storage.NewMemoryKV(), config.Logger)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Button{
		client:       config.Client,
		codes:        config.CodeProvider,
		tokens:       config.Tokens,
		prefs:        config.Preferences,
		redirector:   config.Redirector,
		embed:        config.Embed,
		appAvailable: config.AppAvailable,
		replayOAuth:  config.ReplayOAuthOnReenable,
		tracker:      config.Tracker,
		flusher:      config.Flusher,
		logger:       logger.With("component", "connect-button"),
		machine: NewMachine(MachineConfig{
			Tracker: config.Tracker,
			Metrics: config.Metrics,
			Logger:  logger,
		}),
		lifetime:     lifetime,
		stopLifetime: stop,
	}
}

// Machine exposes the button's state machine for listener registration.
func (b *Button) Machine() *Machine {
	return b.machine
}

// State returns the current button state.
func (b *Button) State() ButtonState {
	return b.machine.State()
}

// SetConnection shows conn. Any in-flight call is abandoned and the state is
// derived from conn alone, so repeated calls with the same connection are
// idempotent.
func (b *Button) SetConnection(ctx context.Context, conn *models.Connection) error {
	if conn == nil {
		return ErrNotReady
	}
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.abandonLocked()
	b.dropRedirectLocked()
	b.mu.Unlock()

	b.machine.SetConnection(ctx, conn)
	return nil
}

// FetchConnection loads connection id and shows it. On failure the error is
// surfaced, the displayed state is kept and Retry repeats the fetch.
func (b *Button) FetchConnection(ctx context.Context, id string) error {
	callCtx, gen, err := b.begin(ctx)
	if err != nil {
		return err
	}
	conn, err := b.client.ShowConnection(callCtx, id)
	if !b.settle(callCtx, gen) {
		return ErrCanceled
	}

	b.mu.Lock()
	if err != nil {
		b.lastFetch = id
	} else {
		b.lastFetch = ""
	}
	b.mu.Unlock()

	if err != nil {
		b.machine.Error(ctx, api.ToErrorResponse(err))
		return err
	}
	if err := conn.Validate(); err != nil {
		b.machine.Error(ctx, &models.ErrorResponse{Code: models.ErrorCodeUnknownState, Message: err.Error()})
		return fmt.Errorf("connect: %w", err)
	}
	b.show(ctx, conn)
	return nil
}

// Retry repeats the last failed FetchConnection. It does nothing when the
// last fetch succeeded.
func (b *Button) Retry(ctx context.Context) error {
	b.mu.Lock()
	id := b.lastFetch
	b.mu.Unlock()
	if id == "" {
		return nil
	}
	return b.FetchConnection(ctx, id)
}

// SetVisible records an impression when the button appears and requests an
// event upload on every visibility change.
func (b *Button) SetVisible(ctx context.Context, visible bool) {
	if conn := b.machine.Connection(); visible && conn != nil {
		b.tracker.Impression(ctx, conn.ID)
	}
	if b.flusher != nil {
		b.flusher.Trigger()
	}
}

// Activate handles the activation gesture on an Initial or Disabled button.
// email is required unless a user token is stored.
//
// Disabled connections of a signed-in user are re-enabled directly. Otherwise
// the account lookup and the OAuth code request run concurrently, the button
// moves to CreateAccount or Login, and the user is redirected to finish the
// flow. The flow resumes in SetConnectResult.
func (b *Button) Activate(ctx context.Context, email string) error {
	conn, state := b.machine.Snapshot()
	if conn == nil {
		return ErrNotReady
	}
	if state != StateInitial && state != StateDisabled {
		return fmt.Errorf("%w: activate from %s", ErrInvalidState, state)
	}
	b.tracker.Click(ctx, conn.ID, "connect")

	if state == StateDisabled && !b.replayOAuth && b.tokens.Value() != "" {
		return b.reenable(ctx, conn)
	}

	callCtx, gen, err := b.begin(ctx)
	if err != nil {
		return err
	}
	prep, err := b.prepareAuthentication(callCtx, email)
	if !b.settle(callCtx, gen) {
		return ErrCanceled
	}
	if errors.Is(err, ErrEmailRequired) {
		return err
	}
	if err != nil {
		b.fail(ctx, conn, err)
		return err
	}

	flow := FlowLogin
	switch {
	case prep.username != "":
		flow = FlowServiceAuthentication
	case !prep.accountFound && state == StateInitial:
		flow = FlowCreateAccount
	}
	return b.redirectTo(ctx, gen, conn, flow, EmbedParams{
		AnonymousID:   b.prefs.AnonymousID(ctx),
		Email:         email,
		Username:      prep.username,
		OAuthCode:     prep.code,
		CreateAccount: flow == FlowCreateAccount,
	})
}

func (b *Button) reenable(ctx context.Context, conn *models.Connection) error {
	callCtx, gen, err := b.begin(ctx)
	if err != nil {
		return err
	}
	updated, err := b.client.ReenableConnection(callCtx, conn.ID)
	if !b.settle(callCtx, gen) {
		return ErrCanceled
	}
	if err != nil {
		if api.IsUnauthorized(err) {
			b.clearUserToken(ctx)
		}
		b.fail(ctx, conn, err)
		return err
	}
	b.show(ctx, updated)
	return nil
}

// Disable turns an Enabled connection off. On failure the error is surfaced
// and the button reverts to Enabled.
func (b *Button) Disable(ctx context.Context) error {
	conn, state := b.machine.Snapshot()
	if conn == nil {
		return ErrNotReady
	}
	if state != StateEnabled {
		return fmt.Errorf("%w: disable from %s", ErrInvalidState, state)
	}
	b.tracker.Click(ctx, conn.ID, "disable")

	callCtx, gen, err := b.begin(ctx)
	if err != nil {
		return err
	}
	updated, err := b.client.DisableConnection(callCtx, conn.ID)
	if !b.settle(callCtx, gen) {
		return ErrCanceled
	}
	if err != nil {
		b.fail(ctx, conn, err)
		return err
	}
	b.show(ctx, updated)
	return nil
}

// CancelGesture abandons the in-flight call and any pending redirect, then
// re-shows the current connection.
func (b *Button) CancelGesture(ctx context.Context) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	prior := b.machine.Connection()
	if b.redirect != nil {
		prior = b.redirect.prior
	}
	b.abandonLocked()
	b.dropRedirectLocked()
	b.mu.Unlock()

	if prior != nil {
		b.machine.SetConnection(ctx, prior)
	}
}

// SetConnectResult resumes the flow with the result of a redirect. Each
// redirect's result is consumed once. The call in flight, if any, is
// superseded; a destroyed button returns ErrDestroyed and changes nothing.
func (b *Button) SetConnectResult(ctx context.Context, result ConnectResult) error {
	gen, err := b.supersede()
	if err != nil {
		return err
	}
	conn := b.machine.Connection()
	if conn == nil {
		return ErrNotReady
	}
	prior := b.takeRedirect()
	if prior == nil {
		prior = conn
	}

	switch result.NextStep {
	case NextStepComplete:
		if result.UserToken != "" {
			b.tokens.Set(result.UserToken)
			if err := b.prefs.SetUserToken(ctx, result.UserToken); err != nil {
				b.logger.Warn("persist user token", "error", err)
			}
		}
		return b.complete(ctx, conn, prior)

	case NextStepServiceAuthentication:
		return b.redirectTo(ctx, gen, prior, FlowServiceAuthentication, EmbedParams{
			AnonymousID: b.prefs.AnonymousID(ctx),
			ServiceID:   result.ServiceID,
		})

	case NextStepError:
		code := result.ErrorType
		if code == "" {
			code = models.ErrorCodeUnknownState
		}
		b.restore(ctx, prior, &models.ErrorResponse{Code: code, Message: "authorization flow failed"})
		return &models.ErrorResponse{Code: code}

	default:
		errResp := &models.ErrorResponse{Code: models.ErrorCodeUnknownState, Message: "unrecognised redirect"}
		b.restore(ctx, prior, errResp)
		return errResp
	}
}

// complete re-fetches the connection after a successful flow.
func (b *Button) complete(ctx context.Context, conn, prior *models.Connection) error {
	callCtx, gen, err := b.begin(ctx)
	if err != nil {
		return err
	}
	fresh, err := b.client.ShowConnection(callCtx, conn.ID)
	if !b.settle(callCtx, gen) {
		return ErrCanceled
	}
	if err != nil {
		if api.IsUnauthorized(err) {
			b.clearUserToken(ctx)
		}
		b.restore(ctx, prior, api.ToErrorResponse(err))
		return err
	}
	b.show(ctx, fresh)
	return nil
}

// OnLifecycleStop cancels every in-flight call and unregisters the redirect
// monitor. A later SetConnectResult can still complete a pending flow.
func (b *Button) OnLifecycleStop() {
	b.mu.Lock()
	b.abandonLocked()
	b.monitor.Unregister()
	b.mu.Unlock()
}

// OnLifecycleResume tells the button the host app is in the foreground again.
// A redirect that returns without a result falls back to the prior state.
// Hosts reopened through a deep link call SetConnectResult first.
func (b *Button) OnLifecycleResume() {
	b.monitor.Resumed()
}

// OnLifecycleDestroy stops the button for good. No listener fires afterwards.
func (b *Button) OnLifecycleDestroy() {
	b.mu.Lock()
	b.abandonLocked()
	b.destroyed = true
	b.dropRedirectLocked()
	b.mu.Unlock()

	b.machine.Destroy()
	b.stopLifetime()
}

var _ LifecycleObserver = (*Button)(nil)

type preparation struct {
	accountFound bool
	username     string
	code         string
}

// prepareAuthentication resolves the signed-in user and the account lookup
// while the host app's OAuth code is requested concurrently.
//
// A failed account lookup counts as found so the user is sent to sign in
// rather than to create a duplicate account.
func (b *Button) prepareAuthentication(ctx context.Context, email string) (preparation, error) {
	var prep preparation
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if b.tokens.Value() != "" {
			user, err := b.client.User(gctx)
			switch {
			case err == nil && user.Authenticated():
				prep.username = user.Login
				prep.accountFound = true
				return nil
			case err != nil && api.IsUnauthorized(err):
				b.clearUserToken(gctx)
			case err != nil && gctx.Err() != nil:
				return err
			case err != nil:
				b.logger.Warn("user lookup failed", "error", err)
			}
		}
		if email == "" {
			return ErrEmailRequired
		}
		found, err := b.client.FindAccount(gctx, email)
		if err != nil {
			if gctx.Err() != nil {
				return err
			}
			b.logger.Warn("account lookup failed, assuming account exists", "error", err)
			found = true
		}
		prep.accountFound = found
		return nil
	})

	var code string
	g.Go(func() error {
		if b.codes == nil {
			return nil
		}
		c, err := b.codes.OAuthCode(gctx)
		if err != nil {
			if errors.Is(err, auth.ErrNoCodeProvider) {
				return nil
			}
			return fmt.Errorf("oauth code: %w", err)
		}
		code = c
		return nil
	})

	if err := g.Wait(); err != nil {
		return preparation{}, err
	}
	prep.code = code
	return prep, nil
}

// redirectTo sends the user to continue flow for the call of generation gen.
// A superseded call is canceled before anything is shown.
func (b *Button) redirectTo(ctx context.Context, gen uint64, conn *models.Connection, flow FlowStep, params EmbedParams) error {
	target, err := b.target(conn, params)
	if err != nil {
		b.restore(ctx, conn, &models.ErrorResponse{Code: models.ErrorCodeUnknownState, Message: err.Error()})
		return err
	}

	b.mu.Lock()
	switch {
	case b.destroyed:
		b.mu.Unlock()
		return ErrDestroyed
	case b.gen != gen:
		b.mu.Unlock()
		return ErrCanceled
	}
	b.dropRedirectLocked()
	b.redirect = &pendingRedirect{prior: conn, step: flow, gen: gen}
	b.monitor.Register(func() { b.redirectAbandoned(gen) })
	b.mu.Unlock()

	b.machine.EnterFlow(ctx, flow)
	if err := b.redirector.Redirect(ctx, target); err != nil {
		if !b.dropRedirect(gen) {
			return ErrCanceled
		}
		b.restore(ctx, conn, &models.ErrorResponse{Code: models.ErrorCodeUnknownState, Message: err.Error()})
		return fmt.Errorf("connect: redirect: %w", err)
	}
	b.logger.Debug("redirected", "app", target.App, "step", flow)
	return nil
}

func (b *Button) target(conn *models.Connection, params EmbedParams) (RedirectTarget, error) {
	embedURL, err := BuildEmbedURL(b.embed, conn, params)
	if err != nil {
		return RedirectTarget{}, err
	}
	if b.embed.AppScheme != "" && b.appAvailable != nil && b.appAvailable() {
		appURL, err := AppURL(b.embed.AppScheme, embedURL)
		if err != nil {
			return RedirectTarget{}, err
		}
		return RedirectTarget{URL: appURL, App: true}, nil
	}
	return RedirectTarget{URL: embedURL}, nil
}

// redirectAbandoned runs when the host resumes while a redirect from
// generation gen is still pending.
func (b *Button) redirectAbandoned(gen uint64) {
	b.mu.Lock()
	if b.destroyed || b.gen != gen || b.redirect == nil || b.redirect.gen != gen {
		b.mu.Unlock()
		return
	}
	pending := b.redirect
	b.redirect = nil
	b.mu.Unlock()

	b.logger.Debug("redirect abandoned", "step", pending.step)
	prior := pending.prior
	b.machine.SetConnection(b.lifetime, prior)
}

// takeRedirect consumes the pending redirect and returns its prior connection.
func (b *Button) takeRedirect() *models.Connection {
	b.mu.Lock()
	pending := b.redirect
	b.dropRedirectLocked()
	b.mu.Unlock()
	if pending == nil {
		return nil
	}
	return pending.prior
}

// dropRedirect drops the redirect of generation gen. It reports false when a
// newer redirect has replaced it.
func (b *Button) dropRedirect(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redirect == nil || b.redirect.gen != gen {
		return false
	}
	b.dropRedirectLocked()
	return true
}

func (b *Button) dropRedirectLocked() {
	b.redirect = nil
	b.monitor.Unregister()
}

// show replaces the displayed connection. A pending redirect belongs to the
// connection being replaced and is dropped.
func (b *Button) show(ctx context.Context, conn *models.Connection) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.dropRedirectLocked()
	b.mu.Unlock()
	b.machine.SetConnection(ctx, conn)
}

// fail surfaces err and re-shows conn.
func (b *Button) fail(ctx context.Context, conn *models.Connection, err error) {
	b.restore(ctx, conn, api.ToErrorResponse(err))
}

func (b *Button) restore(ctx context.Context, conn *models.Connection, errResp *models.ErrorResponse) {
	if b.isDestroyed() {
		return
	}
	b.machine.Error(ctx, errResp)
	b.show(ctx, conn)
}

func (b *Button) clearUserToken(ctx context.Context) {
	b.tokens.Clear()
	if err := b.prefs.ClearUserToken(ctx); err != nil {
		b.logger.Warn("clear user token", "error", err)
	}
}

func (b *Button) isDestroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// begin starts a call, superseding any call in flight.
func (b *Button) begin(ctx context.Context) (context.Context, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, 0, ErrDestroyed
	}
	b.abandonLocked()

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.lifetime, cancel)
	b.cancelCall = func() {
		stop()
		cancel()
	}
	return callCtx, b.gen, nil
}

// supersede cancels the call in flight and returns the generation of the
// caller, which makes no network call of its own.
func (b *Button) supersede() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return 0, ErrDestroyed
	}
	b.abandonLocked()
	return b.gen, nil
}

// finish ends call gen and reports whether its result may still be applied.
func (b *Button) finish(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.destroyed {
		return false
	}
	if b.cancelCall != nil {
		b.cancelCall()
		b.cancelCall = nil
	}
	return true
}

// settle is finish for a call made under callCtx. A call whose context ended
// reports nothing.
func (b *Button) settle(callCtx context.Context, gen uint64) bool {
	if callCtx.Err() != nil {
		b.finish(gen)
		return false
	}
	return b.finish(gen)
}

// abandonLocked cancels the in-flight call and invalidates its result.
func (b *Button) abandonLocked() {
	if b.cancelCall != nil {
		b.cancelCall()
		b.cancelCall = nil
	}
	b.gen++
}
