package rpc

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
	"github.com/MNS-Vic/marketprism-sub020/usecase"
)

var logger = logrus.WithField("component", "rpc")

// Server exposes the operational HTTP surface: local book snapshots, the
// per-symbol health query and the administrative force-resync.
type Server struct {
	router                   *mux.Router
	manager                  *domain.OrderBookManager
	orderbookSnapshotUseCase *usecase.OrderBookSnapshotUseCase
	validationService        *ValidationService
}

func NewServer(
	manager *domain.OrderBookManager,
	snapshotUseCase *usecase.OrderBookSnapshotUseCase,
	providers []string,
) *Server {
	s := &Server{
		router:                   mux.NewRouter(),
		manager:                  manager,
		orderbookSnapshotUseCase: snapshotUseCase,
		validationService:        NewValidationService(providers),
	}

	s.router.HandleFunc("/orderbook/{provider}/{market}/{symbol}", s.GetOrderBookSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/orderbook/{provider}/{market}/{symbol}/health", s.GetBookHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/orderbook/{provider}/{market}/{symbol}/resync", s.ForceResync).Methods(http.MethodPost)

	return s
}

func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	logger.Infof("http server listening at %s", addr)
	return http.ListenAndServe(addr, s.router)
}
