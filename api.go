package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

// api serves game information and metrics over HTTP.
type api struct {
	store store.Store
	log   *slog.Logger
}

// handler creates the API routes.
func (a *api) handler(metrics []prometheus.Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/heap/allocs:bytes|/gc/heap/goal:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("GET /api/top", a.apiTop)
	mux.HandleFunc("GET /api/player/{name}", a.apiPlayer)
	return mux
}

// serve runs the HTTP server until ctx is canceled.
func (a *api) serve(ctx context.Context, listen string, metrics []prometheus.Collector) error {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     a.handler(metrics),
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		a.log.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		a.log.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// ctx is done, so shutdown gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

// apiPlayerData is the public view of a player.
type apiPlayerData struct {
	Name      string         `json:"name"`
	Class     string         `json:"class"`
	Level     int            `json:"level"`
	Next      int64          `json:"next"`
	Online    bool           `json:"online"`
	Idled     int64          `json:"idled"`
	Penalties int64          `json:"penalties"`
	LastLogin string         `json:"lastLogin,omitzero"`
	Items     map[string]int `json:"items,omitempty"`
}

func publicPlayer(r player.Record) apiPlayerData {
	d := apiPlayerData{
		Name:      r.Name,
		Class:     r.Class,
		Level:     r.Level,
		Next:      r.Next,
		Online:    r.Online,
		Idled:     r.Idled,
		Penalties: r.Penalties,
	}
	if r.LastLogin != 0 {
		d.LastLogin = time.Unix(r.LastLogin, 0).UTC().Format(time.RFC3339)
	}
	// A record with bad items still shows the rest.
	eq, _ := r.Equipment()
	for _, s := range player.Slots {
		if eq[s] != 0 {
			if d.Items == nil {
				d.Items = make(map[string]int)
			}
			d.Items[s.String()] = eq[s]
		}
	}
	return d
}

// maxAPITop is the most players the top players API lists.
const maxAPITop = 100

func (a *api) apiTop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := a.log.With(slog.String("api", "top"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	n := store.DefaultTop
	if s := r.FormValue("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 {
			log.WarnContext(ctx, "bad request", slog.String("n", s), slog.Any("err", err))
			jsonerror(w, http.StatusBadRequest, "invalid count")
			return
		}
		n = min(n, maxAPITop)
	}
	top, err := a.store.TopPlayers(ctx, n)
	if err != nil {
		log.ErrorContext(ctx, "couldn't get top players", slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	u := struct {
		Data   []apiPlayerData `json:"data"`
		Status int             `json:"status"`
	}{
		Data:   make([]apiPlayerData, len(top)),
		Status: http.StatusOK,
	}
	for i, p := range top {
		u.Data[i] = publicPlayer(p)
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

func (a *api) apiPlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := a.log.With(slog.String("api", "player"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	name := r.PathValue("name")
	p, err := a.store.Player(ctx, name)
	switch {
	case err == nil: // do nothing
	case errors.Is(err, store.ErrNoPlayer):
		log.WarnContext(ctx, "no such player", slog.String("player", name))
		jsonerror(w, http.StatusNotFound, "no such player")
		return
	default:
		log.ErrorContext(ctx, "couldn't get player", slog.String("player", name), slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	u := struct {
		Data   apiPlayerData `json:"data"`
		Status int           `json:"status"`
	}{
		Data:   publicPlayer(p),
		Status: http.StatusOK,
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}
