package rest

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	log       *logrus.Entry
	app       App
	address   string
	version   string
	publicKey *rsa.PublicKey
}

func New(log *logrus.Logger, app App, address, version string) *Server {
	return &Server{
		log:     log.WithField("component", "rest"),
		app:     app,
		address: address,
		version: version,
	}
}

// WithPublicKey enables the JWT admin gate on resource administration and
// purge. Without a key those endpoints are open (single-tenant deployments).
func (s *Server) WithPublicKey(key *rsa.PublicKey) *Server {
	s.publicKey = key
	return s
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.address,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("err during shutdown: %v", err)
		}
	}()
	s.log.Infof("listening on %s", s.address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/version", s.versionHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/resources", s.listResourcesHandler)
			r.With(s.adminOnly).Post("/resources", s.registerResourceHandler)
			r.With(s.adminOnly).Delete("/resources/{id}", s.removeResourceHandler)

			r.Get("/meetings", s.queryWindowHandler)
			r.Post("/meetings", s.proposeHandler)
			r.Get("/meetings/{id}", s.getMeetingHandler)
			r.Post("/meetings/{id}/commit", s.commitHandler)
			r.Post("/meetings/{id}/discard", s.discardHandler)
			r.Post("/meetings/{id}/cancel", s.cancelHandler)
			r.Patch("/meetings/{id}/reschedule", s.rescheduleHandler)
			r.Patch("/meetings/{id}/status", s.statusHandler)
			r.Patch("/meetings/{id}/attendees", s.attendeesHandler)
			r.With(s.adminOnly).Delete("/meetings/{id}", s.purgeHandler)

			r.Get("/calendar/{view}", s.calendarHandler)
			r.Get("/stats", s.statsHandler)
		})
	})
	return r
}
