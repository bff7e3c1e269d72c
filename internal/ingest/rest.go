package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"netwarden/internal/config"
	"netwarden/internal/model"
)

const (
	maxBody        = 2 << 20
	limiterClients = 10000
	limiterIdle    = 10 * time.Minute
)

type RESTServer struct {
	cfg      *config.Manager
	sink     *Sink
	limiters *expirable.LRU[string, *rate.Limiter]
}

func NewRESTServer(cfg *config.Manager, sink *Sink) *RESTServer {
	return &RESTServer{
		cfg:      cfg,
		sink:     sink,
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterClients, nil, limiterIdle),
	}
}

func StartREST(ctx context.Context, cfg *config.Manager, sink *Sink) *http.Server {
	current := cfg.Get().Ingest.REST
	logger := sink.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTServer(cfg, sink).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *RESTServer) allow(client string) bool {
	current := s.cfg.Get().Ingest.REST
	if current.RateLimit <= 0 {
		return true
	}
	burst := current.Burst
	if burst <= 0 {
		burst = int(current.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	limiter, ok := s.limiters.Get(client)
	if !ok || limiter.Limit() != rate.Limit(current.RateLimit) || limiter.Burst() != burst {
		limiter = rate.NewLimiter(rate.Limit(current.RateLimit), burst)
		s.limiters.Add(client, limiter)
	}
	return limiter.Allow()
}

func clientOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *RESTServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	client := clientOf(r)
	if !s.allow(client) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payloads [][]byte
	switch {
	case trim[0] == '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, item := range list {
			payloads = append(payloads, item)
		}
	case trim[0] == '{':
		if !json.Valid(trim) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloads = append(payloads, trim)
	case strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain"):
		sc := bufio.NewScanner(bytes.NewReader(trim))
		sc.Buffer(make([]byte, 0, 8192), maxBody)
		for sc.Scan() {
			if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
				payloads = append(payloads, append([]byte(nil), line...))
			}
		}
	default:
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	accepted, dropped := 0, 0
	now := time.Now().UTC()
	for _, p := range payloads {
		raw := model.RawInput{Payload: p, Source: "rest", Remote: client, ReceivedAt: now}
		if s.sink.Send(r.Context(), raw) {
			accepted++
		} else {
			dropped++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if accepted == 0 && dropped > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}
