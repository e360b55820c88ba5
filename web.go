package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/tabletop/audit"
	"github.com/Seednode/tabletop/chat"
	"github.com/Seednode/tabletop/games"
	"github.com/julienschmidt/httprouter"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

// server carries everything the handlers share.
type server struct {
	cfg     *Config
	games   *games.Manager
	chat    *chat.Service
	hub     *notifier
	limiter *limiter
	tracker *audit.Async
	store   auditStore
	errs    chan error
}

type auditStore interface {
	audit.Store
	audit.Lister
}

func newServer(ctx context.Context, cfg *Config) (*server, error) {
	var store auditStore = audit.NewMemory()
	if cfg.auditDB != "" {
		db, err := audit.OpenSQLite(cfg.auditDB)
		if err != nil {
			return nil, err
		}
		store = db
	}

	s := &server{
		cfg:     cfg,
		store:   store,
		hub:     newNotifier(cfg),
		limiter: newLimiter(cfg.chatRate, cfg.chatBurst),
		errs:    make(chan error, 64),
	}

	// Stopped only by close, after in-flight requests have finished.
	s.tracker = audit.NewAsync(store, cfg.auditQueue, func(err error) {
		logf(cfg, "AUDIT: %v", err)
	})

	s.chat = chat.NewService(
		chat.WithTracker(s.tracker),
		chat.WithPostHook(s.hub.notifyChat),
		chat.WithFaultHandler(func(err error) {
			errorf("chat: %v", err)
		}),
	)

	s.games = games.NewManager(ctx, cfg.sessionTimeout, func(gameID string) {
		logf(cfg, "GAMES: Reaped idle game %s", gameID)
		s.hub.closeGame(gameID)
	})

	go s.drainErrors(ctx)

	return s, nil
}

func (s *server) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.errs:
			logf(s.cfg, "SERVE: %v", err)
		}
	}
}

// close flushes pending audit records and releases the store.
func (s *server) close() {
	s.tracker.Close()

	if dropped := s.tracker.Dropped(); dropped > 0 {
		logf(s.cfg, "AUDIT: Dropped %d participant records", dropped)
	}

	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errorf("close audit store: %v", err)
		}
	}
}

func (s *server) router() *httprouter.Router {
	cfg := s.cfg
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		errorf("panic serving %s to %s: %v", r.URL.Path, realIP(r), i)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, s.errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, s.errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, s.errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, s.errs))

	mux.GET(cfg.prefix+"/api/chat", s.serveChatFetch())
	mux.POST(cfg.prefix+"/api/chat", s.serveChatPost())
	mux.GET(cfg.prefix+"/api/chat/ws", s.serveChatSocket())

	mux.GET(cfg.prefix+"/api/player", s.servePlayerView())
	mux.GET(cfg.prefix+"/api/spectator", s.serveSpectatorView())

	mux.POST(cfg.prefix+"/api/creategame", s.serveCreateGame())
	mux.POST(cfg.prefix+"/api/phase", s.servePhase())
	mux.POST(cfg.prefix+"/api/rename", s.serveRename())
	mux.GET(cfg.prefix+"/api/qr", s.serveQR())

	if cfg.profile {
		registerProfileHandlers(cfg, mux)

		mux.GET(cfg.prefix+"/pprof/participants", s.serveParticipants())
	}

	return mux
}

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handler("GET", cfg.prefix+"/pprof/"+name, pprof.Handler(name))
	}

	mux.HandlerFunc("GET", cfg.prefix+"/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/trace", pprof.Trace)

	logf(cfg, "SERVE: Registered pprof handlers at %s/pprof/", cfg.prefix)
}

// serveParticipants lists where a player or spectator id was used from.
func (s *server) serveParticipants() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id, ok := participantParam(w, r)
		if !ok {
			return
		}

		participants, err := s.store.Participants(r.Context(), id)
		if err != nil {
			errorf("list participants for %s: %v", id, err)
			http.Error(w, "unable to list participants", http.StatusInternalServerError)
			return
		}
		if participants == nil {
			participants = []audit.Participant{}
		}

		writeJSON(s.cfg, w, http.StatusOK, participants)
	}
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// sourceAddress is realIP without the port, so one machine records as one
// origin across connections.
func sourceAddress(r *http.Request) string {
	addr := realIP(r)

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("tabletop v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: tabletop v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := newServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer s.close()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           s.router(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	listenErr := make(chan error, 1)

	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		return err
	}

	logf(cfg, "SERVE: Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	s.hub.closeAll()

	return srv.Shutdown(shutdownCtx)
}
