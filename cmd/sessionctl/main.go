package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/events"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const usage = `usage: sessionctl [-config file] <command> [flags]

commands:
  status            restore the persisted session and print it
  login             -email <email> -password <password>
  logout            end the session and wipe the store
  refresh           renew the access token now
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	global := flag.NewFlagSet("sessionctl", flag.ContinueOnError)
	configFile := global.String("config", "", "TOML settings file")
	quiet := global.Bool("q", false, "do not print the banner")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command")
	}

	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			return err
		}
	}
	c := config.New()
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer app.close()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "status":
		return app.status(ctx, os.Stdout)
	case "login":
		return app.login(ctx, os.Stdout, rest)
	case "logout":
		return app.logout(ctx, os.Stdout)
	case "refresh":
		return app.refresh(ctx, os.Stdout)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type application struct {
	log     zerolog.Logger
	client  *backend.Client
	backend store.Backend
	cache   *cache.Manager
	manager *auth.SessionManager
}

func open(ctx context.Context, c config.Config) (*application, error) {
	log := logging.New(c)
	mt := metrics.New(prometheus.NewRegistry())

	obfuscator, err := store.NewObfuscator(c.GetStoreSecret())
	if err != nil {
		return nil, fmt.Errorf("[sessionctl open] obfuscator: %w", err)
	}
	bus := events.NewBus(events.WithLogger(log), events.WithMetrics(mt))
	raw, durable := store.OpenDurable(c.GetStorePath(), log)
	if !durable {
		log.Warn().Str("path", c.GetStorePath()).Msg("session will not survive this process")
	}
	st := store.New(raw,
		store.WithObfuscator(obfuscator),
		store.WithEventBus(bus),
		store.WithLogger(log),
	)

	cm := cache.New(
		cache.WithLogger(log),
		cache.WithMetrics(mt),
		cache.WithSweepInterval(c.GetSweepInterval()),
		cache.WithClassTTL(cache.ProfileData, c.GetProfileTTL()),
		cache.WithClassTTL(cache.VolatileData, c.GetVolatileTTL()),
		cache.WithClassTTL(cache.PreferenceData, c.GetPreferencesTTL()),
	)
	cm.Start(ctx)

	client := backend.NewClientFromConfig(c, backend.WithLogger(log))
	manager, err := auth.NewSessionManager(auth.Components{
		Store:   st,
		Cache:   cm,
		Bus:     bus,
		Backend: client,
	}, c, auth.WithLogger(log), auth.WithMetrics(mt))
	if err != nil {
		cm.Close()
		return nil, err
	}

	for _, kind := range []events.Kind{events.PremiumStatusChanged, events.Logout, events.RevalidationFailed} {
		bus.Subscribe(kind, func(e events.Event) {
			log.Info().Str("event", e.Kind.String()).Msg("session event")
		})
	}

	return &application{log: log, client: client, backend: raw, cache: cm, manager: manager}, nil
}

func (a *application) close() {
	a.cache.Close()
	if closer, ok := a.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing session store")
		}
	}
}

func (a *application) status(ctx context.Context, w io.Writer) error {
	fmt.Fprintf(w, "backend: %s (timeout %s)\n", a.client.BaseURL(), a.client.Timeout())
	if err := a.manager.Bootstrap(ctx); err != nil {
		return err
	}
	printSession(w, a.manager)
	return nil
}

func (a *application) login(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login needs -email and -password")
	}
	if err := a.manager.Login(ctx, backend.Credentials{Email: *email, Password: *password}); err != nil {
		return err
	}
	printSession(w, a.manager)
	return nil
}

func (a *application) logout(ctx context.Context, w io.Writer) error {
	if err := a.manager.Bootstrap(ctx); err != nil {
		a.log.Debug().Err(err).Msg("no session to restore before logout")
	}
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "logged out")
	return nil
}

func (a *application) refresh(ctx context.Context, w io.Writer) error {
	if err := a.manager.Bootstrap(ctx); err != nil {
		return err
	}
	if !a.manager.IsAuthenticated() {
		return errors.New("no session")
	}
	if _, err := a.manager.Refresh(ctx); err != nil {
		return err
	}
	printSession(w, a.manager)
	return nil
}

func printSession(w io.Writer, m *auth.SessionManager) {
	fmt.Fprintf(w, "state:   %s\n", m.State())
	if !m.IsAuthenticated() {
		return
	}
	sess := m.Session()
	fmt.Fprintf(w, "user:    %s\n", sess.UserID)
	if u := m.User(); u != nil {
		fmt.Fprintf(w, "name:    %s\n", u.DisplayName())
	}
	fmt.Fprintf(w, "premium: %t\n", m.PremiumStatus())
	fmt.Fprintf(w, "issued:  %s\n", sess.IssuedAt.Format("2006-01-02 15:04:05"))
	if exp := m.Validator().Expiry(sess.AccessToken); !exp.IsZero() {
		fmt.Fprintf(w, "expires: %s\n", exp.Format("2006-01-02 15:04:05"))
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
