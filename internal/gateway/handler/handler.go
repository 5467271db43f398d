// Package handler forwards gateway traffic to the ingestion, search and
// analytics services.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
)

// Config holds the base URLs of the backend services.
type Config struct {
	IngestionURL string
	SearcherURL  string
	AnalyticsURL string
}

type backend struct {
	name   string
	target *url.URL
	proxy  *httputil.ReverseProxy
}

type Handler struct {
	ingestion *backend
	searcher  *backend
	analytics *backend
	client    *http.Client
	logger    *slog.Logger
}

func New(cfg Config) (*Handler, error) {
	h := &Handler{
		client: &http.Client{Timeout: 3 * time.Second},
		logger: slog.Default().With("component", "gateway-handler"),
	}
	var err error
	if h.ingestion, err = h.newBackend("ingestion", cfg.IngestionURL); err != nil {
		return nil, err
	}
	if h.searcher, err = h.newBackend("searcher", cfg.SearcherURL); err != nil {
		return nil, err
	}
	if h.analytics, err = h.newBackend("analytics", cfg.AnalyticsURL); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) newBackend(name, raw string) (*backend, error) {
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, raw)
	}
	b := &backend{name: name, target: target}
	b.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if id := middleware.GetRequestID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.FromContext(r.Context()).Error("backend request failed",
				"backend", name,
				"path", r.URL.Path,
				"error", err,
			)
			writeError(w, http.StatusBadGateway, name+" service unavailable")
		},
	}
	return b, nil
}

func (h *Handler) Ingestion(w http.ResponseWriter, r *http.Request) {
	h.ingestion.proxy.ServeHTTP(w, r)
}

func (h *Handler) Searcher(w http.ResponseWriter, r *http.Request) {
	h.searcher.proxy.ServeHTTP(w, r)
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	h.analytics.proxy.ServeHTTP(w, r)
}

// RegisterChecks adds a readiness check per backend that probes its
// liveness endpoint. An unreachable searcher takes the gateway down; the
// other backends only degrade it.
func (h *Handler) RegisterChecks(checker *health.Checker) {
	checker.Register("ingestion", h.livenessCheck(h.ingestion, health.StatusDegraded))
	checker.Register("searcher", h.livenessCheck(h.searcher, health.StatusDown))
	checker.Register("analytics", h.livenessCheck(h.analytics, health.StatusDegraded))
}

func (h *Handler) livenessCheck(b *backend, failStatus health.Status) health.Check {
	probe := b.target.JoinPath("/health/live").String()
	return health.PingCheck(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s liveness returned %d", b.name, resp.StatusCode)
		}
		return nil
	}, failStatus)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
