// Package router builds the gateway's route table and middleware chain.
package router

import (
	"net/http"

	gwhandler "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
)

// New returns the gateway handler.
//
// Route table:
//
//	/api/v1/documents...        ingestion service
//	POST /api/v1/qa/ask         search service
//	GET  /api/v1/search         search service
//	/api/v1/cache/...           search service
//	/api/v1/analytics...        analytics service
//	GET  /health/live, /health/ready
//
// Middleware chain, outermost first:
//
//	RequestID, Metrics, CORS, RateLimit, mux
func New(h *gwhandler.Handler, checker *health.Checker, limiter *ratelimit.Limiter, cors gwmw.CORSConfig, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("/api/v1/documents", h.Ingestion)
	mux.HandleFunc("/api/v1/documents/", h.Ingestion)

	mux.HandleFunc("POST /api/v1/qa/ask", h.Searcher)
	mux.HandleFunc("GET /api/v1/search", h.Searcher)
	mux.HandleFunc("/api/v1/cache/", h.Searcher)

	mux.HandleFunc("/api/v1/analytics", h.Analytics)
	mux.HandleFunc("/api/v1/analytics/", h.Analytics)

	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter)(chain)
	chain = gwmw.CORS(cors)(chain)
	chain = pkgmw.Metrics(m)(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
