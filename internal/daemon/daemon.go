// Package daemon assembles the SafeCheck service from its configuration and
// runs it until shut down.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lcrostarosa/safecheck/internal/checkin"
	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/config"
	"github.com/lcrostarosa/safecheck/internal/directory"
	"github.com/lcrostarosa/safecheck/internal/dispatch"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/feed"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/kv"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/pinvault"
	"github.com/lcrostarosa/safecheck/internal/retention"
	"github.com/lcrostarosa/safecheck/internal/rpc"
	"github.com/lcrostarosa/safecheck/internal/sharing"
	"github.com/lcrostarosa/safecheck/internal/sink"
	"github.com/lcrostarosa/safecheck/internal/timerstate"
)

const (
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout = 5 * time.Second

	// SharedLocationTTL expires a shared position nobody refreshed.
	SharedLocationTTL = 10 * time.Minute
)

// App is a fully wired SafeCheck service.
type App struct {
	cfg   *config.Config
	clock clock.Clock

	Directory *directory.Static
	Location  location.Provider
	Timer     *checkin.Controller
	Sharing   *sharing.Controller
	Pins      *pinvault.Vault
	History   *history.Feed
	Inbox     sink.Inbox
	Alerts    *dispatch.Dispatcher
	Hub       *feed.Hub
	Sweeper   *retention.Sweeper

	handler http.Handler
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option configures New.
type Option func(*App)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New builds every component named by cfg. The persisted timer, if any, is
// restored before New returns. On error everything already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg.User == nil || cfg.User.ID == "" {
		return nil, apperrors.ErrNotLoggedIn
	}

	app = &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	app.clock = clock.OrReal(app.clock)

	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.onClose("redis", rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return app, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	store, err := app.openStore(cfg, rdb)
	if err != nil {
		return app, err
	}

	app.Directory = directory.NewStatic(cfg.User, cfg.Contacts)

	if err := app.openLocation(cfg); err != nil {
		return app, err
	}

	var shareSink location.ShareSink = location.NewMemoryShareSink()
	if rdb != nil {
		shareSink = location.NewRedisShareSink(rdb, SharedLocationTTL)
	}

	if err := app.openInbox(cfg, rdb); err != nil {
		return app, err
	}

	db, err := history.OpenDB(cfg.HistoryDBPath())
	if err != nil {
		return app, err
	}
	app.onClose("history database", db.Close)
	app.History = history.NewFeed(history.NewSQLiteStore(db))
	app.onClose("history feed", func() error { app.History.Close(); return nil })

	app.Pins = pinvault.New(store)

	timers, err := timerstate.Open(ctx, store, app.clock)
	if err != nil {
		return app, fmt.Errorf("failed to load timer state: %w", err)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithClock(app.clock),
		dispatch.WithRetry(dispatch.DefaultRetryStrategy()),
		dispatch.WithLocationTimeout(cfg.LocationTimeout()),
		dispatch.WithGeocodeTimeout(cfg.GeocodeTimeout()),
	}
	if cfg.Geocoder.BaseURL != "" {
		dispatchOpts = append(dispatchOpts, dispatch.WithGeocoder(
			location.NewNominatimGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, cfg.GeocodeTimeout())))
	}
	app.Alerts = dispatch.New(app.Inbox, app.History, app.Location, dispatchOpts...)

	timerOpts := []checkin.Option{
		checkin.WithClock(app.clock),
		checkin.WithTickInterval(cfg.TickInterval()),
		checkin.WithConfirmationWindow(cfg.ConfirmationWindow()),
	}
	if cfg.Lockout.Enabled {
		timerOpts = append(timerOpts, checkin.WithLockout(pinvault.NewRateLimited(lockoutConfig(cfg), app.clock)))
	}
	app.Timer, err = checkin.New(checkin.Deps{
		Identity:   app.Directory,
		Contacts:   app.Directory,
		Location:   app.Location,
		Timers:     timers,
		Pins:       app.Pins,
		Dispatcher: app.Alerts,
	}, timerOpts...)
	if err != nil {
		return app, err
	}
	app.onClose("check-in timer", func() error { app.Timer.Close(); return nil })

	app.Sharing = sharing.New(sharing.Deps{
		Identity: app.Directory,
		Location: app.Location,
		Sink:     shareSink,
	}, sharing.WithClock(app.clock))
	app.onClose("location sharing", func() error {
		err := app.Sharing.Stop(context.Background())
		if errors.Is(err, apperrors.ErrSharingNotActive) {
			return nil
		}
		return err
	})

	app.Sweeper = retention.NewSweeper(app.History, retention.Policy{
		Retention:   cfg.Retention(),
		ExpireAfter: cfg.ExpireAfter(),
		Interval:    cfg.SweepInterval(),
	}, app.clock)

	restored, err := app.Timer.Restore(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to restore timer: %w", err)
	}
	if restored {
		logging.Info("Restored check-in timer",
			logging.String("phase", app.Timer.Snapshot().Phase.String()),
			logging.Duration("remaining", app.Timer.Snapshot().Remaining))
	}

	app.Hub = feed.NewHub()
	app.handler = app.routes(rpc.AuthConfig{APIKey: cfg.APIKey})
	return app, nil
}

func (a *App) openStore(cfg *config.Config, rdb *redis.Client) (kv.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return kv.NewMemory(), nil
	case config.StorageRedis:
		if rdb == nil {
			return nil, errors.New("redis storage requires redis.addr")
		}
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = "safecheck:" + cfg.User.ID + ":"
		}
		return kv.NewRedis(rdb, prefix), nil
	case config.StorageFile, "":
		f, err := kv.NewFile(cfg.StoragePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open state directory: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) openLocation(cfg *config.Config) error {
	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "safecheck-" + cfg.User.ID
		}
		topic := cfg.MQTT.Topic
		if topic == "" {
			topic = "safecheck/" + cfg.User.ID + "/location"
		}
		provider, client, err := location.DialMQTT(location.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: clientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    topic,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			return err
		}
		a.onClose("mqtt", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			err := provider.Close(ctx)
			client.Disconnect(250)
			return err
		})
		a.Location = provider
		logging.Info("Receiving location fixes over MQTT",
			logging.String("broker", cfg.MQTT.Broker),
			logging.String("topic", topic))
		return nil
	}

	f := location.NewFeed(cfg.StaticLocation != nil)
	if s := cfg.StaticLocation; s != nil {
		f.Push(location.Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.Accuracy,
			Timestamp: a.clock.Now(),
		})
	} else {
		logging.Warn("No location source configured; alerts cannot be dispatched")
	}
	a.onClose("location feed", func() error { f.Close(); return nil })
	a.Location = f
	return nil
}

func (a *App) openInbox(cfg *config.Config, rdb *redis.Client) error {
	var primary sink.Inbox = sink.NewMemory()
	if rdb != nil {
		primary = sink.NewRedis(rdb)
	}
	if cfg.AMQP.URL == "" {
		a.Inbox = primary
		return nil
	}

	notifier, conn, err := sink.DialAMQP(cfg.AMQP.URL)
	if err != nil {
		return err
	}
	a.onClose("amqp connection", conn.Close)
	a.onClose("amqp channel", notifier.Close)
	a.Inbox = &sink.Fanout{Primary: primary, Notifiers: []dispatch.AlertSink{notifier}}
	return nil
}

func lockoutConfig(cfg *config.Config) pinvault.RateLimitConfig {
	lc := pinvault.DefaultRateLimitConfig()
	if cfg.Lockout.FreeAttempts > 0 {
		lc.FreeAttempts = cfg.Lockout.FreeAttempts
	}
	if d := cfg.LockoutInterval(); d > 0 {
		lc.Interval = d
	}
	if cfg.Lockout.Burst > 0 {
		lc.Burst = cfg.Lockout.Burst
	}
	return lc
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) routes(auth rpc.AuthConfig) http.Handler {
	mux := http.NewServeMux()
	rpc.NewServer(rpc.Deps{
		Identity: a.Directory,
		Timer:    a.Timer,
		Sharing:  a.Sharing,
		Pins:     a.Pins,
		History:  a.History,
		Inbox:    a.Inbox,
		Acks:     a.Alerts,
	}, auth).RegisterHandlers(mux)
	mux.Handle("/feed", feed.Handler(a.Hub, auth))
	mux.HandleFunc("/healthz", a.handleHealth)
	return mux
}

// Handler serves the RPC service, the live feed and /healthz.
func (a *App) Handler() http.Handler {
	return a.handler
}

type healthResponse struct {
	Status      string `json:"status"`
	Timer       string `json:"timer"`
	Sharing     string `json:"sharing"`
	FeedClients int    `json:"feed_clients"`
	LastSweep   string `json:"last_sweep,omitempty"`
	SweepError  string `json:"sweep_error,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Timer:       a.Timer.Snapshot().Phase.String(),
		Sharing:     a.Sharing.Snapshot().Phase.String(),
		FeedClients: a.Hub.ClientCount(),
	}
	if last, err := a.Sweeper.Status(); !last.IsZero() {
		resp.LastSweep = last.UTC().Format(time.RFC3339)
		if err != nil {
			resp.SweepError = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully. It does not close the App.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		feed.Pump(runCtx, a.Hub, feed.Sources{
			Timer:   a.Timer,
			Sharing: a.Sharing,
			History: a.History.Watch(runCtx, a.cfg.User.ID),
		})
	}()

	if a.Sweeper.Enabled() {
		a.Sweeper.Start()
		defer a.Sweeper.Stop()
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logging.Info("SafeCheck listening",
		logging.String("addr", ln.Addr().String()),
		logging.String("user", a.cfg.User.ID))

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logging.Error("Server error", logging.Err(serveErr))
		}
	case <-ctx.Done():
	}

	logging.Info("Shutting down...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	<-pumpDone

	logging.Info("Server stopped")
	return serveErr
}

// Close releases every component in reverse order of creation. The
// persisted timer is left in place for the next start.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			logging.Warn("Failed to close component", logging.String("component", c.name), logging.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
