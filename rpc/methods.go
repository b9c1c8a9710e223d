package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

const defaultSnapshotDepth = 100

type snapshotResponse struct {
	Exchange       string     `json:"exchange"`
	Market         string     `json:"market"`
	Symbol         string     `json:"symbol"`
	SequenceMarker uint64     `json:"sequenceMarker"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) GetOrderBookSnapshot(w http.ResponseWriter, r *http.Request) {
	provider, market, symbol, ok := s.routeParams(w, r)
	if !ok {
		return
	}

	depth := defaultSnapshotDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			depth = parsed
		}
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(r.Context(), provider, market, symbol, depth)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, &snapshotResponse{
		Exchange:       snapshot.Exchange,
		Market:         string(snapshot.Market),
		Symbol:         snapshot.Symbol.String(),
		SequenceMarker: snapshot.SequenceMarker,
		Bids:           domain.SerializePriceLevels(snapshot.Bids),
		Asks:           domain.SerializePriceLevels(snapshot.Asks),
	})
}

func (s *Server) GetBookHealth(w http.ResponseWriter, r *http.Request) {
	provider, market, symbol, ok := s.routeParams(w, r)
	if !ok {
		return
	}

	report, err := s.manager.Health(provider, market, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRoutingKey) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) ForceResync(w http.ResponseWriter, r *http.Request) {
	provider, market, symbol, ok := s.routeParams(w, r)
	if !ok {
		return
	}

	if err := s.manager.ForceResync(provider, market, symbol); err != nil {
		if errors.Is(err, domain.ErrUnknownRoutingKey) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) routeParams(w http.ResponseWriter, r *http.Request) (string, domain.MarketType, *domain.MarketSymbol, bool) {
	vars := mux.Vars(r)
	provider := strings.ToLower(vars["provider"])

	if !s.validationService.IsSupportedProvider(provider) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("provider %s is not supported", provider))
		return "", "", nil, false
	}

	market, err := domain.ParseMarketType(vars["market"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", "", nil, false
	}

	symbol, err := domain.NewMarketSymbolFromString(vars["symbol"])
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("invalid market symbol %s, expected base_quote", vars["symbol"]))
		return "", "", nil, false
	}

	return provider, market, symbol, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, &errorResponse{Error: err.Error()})
}
