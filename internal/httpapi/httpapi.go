// Package httpapi is the HTTP surface of spec.md §6: a thin JSON/HTTP
// binding over one Registry. Lifecycle is supervised with gopkg.in/tomb.v2,
// matching the teacher's internal/net/server.go shutdown idiom.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/broker"
	"bourse/internal/registry"
	"bourse/internal/types"
)

// Version is reported by /backtest/{id}/info.
const Version = "1.0"

// Server binds the HTTP surface to one Registry.
type Server struct {
	address  string
	port     int
	registry *registry.Registry
	http     *http.Server
	t        tomb.Tomb
}

// New builds a Server bound to address:port, serving reg.
func New(address string, port int, reg *registry.Registry) *Server {
	s := &Server{address: address, port: port, registry: reg}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /init/{dataset_name}", s.handleInit)
	mux.HandleFunc("GET /backtest/{id}/info", s.handleInfo)
	mux.HandleFunc("GET /backtest/{id}/now", s.handleNow)
	mux.HandleFunc("GET /backtest/{id}/fetch_quotes", s.handleFetchQuotes)
	mux.HandleFunc("GET /backtest/{id}/tick", s.handleTick)
	mux.HandleFunc("POST /backtest/{id}/insert_order", s.handleInsertOrder)
	mux.HandleFunc("POST /backtest/{id}/modify_order", s.handleModifyOrder)
	mux.HandleFunc("POST /backtest/{id}/cancel_order", s.handleCancelOrder)
	s.http = &http.Server{Addr: fmt.Sprintf("%s:%d", address, port), Handler: mux}
	return s
}

// Handler exposes the underlying mux, so it can be driven directly in tests
// without binding a real listener.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run starts serving and blocks until ctx is cancelled, then shuts the
// server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.t.Go(func() error {
		log.Info().Str("addr", s.http.Addr).Msg("httpapi listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.t.Go(func() error {
		select {
		case <-ctx.Done():
			return s.http.Shutdown(context.Background())
		case <-s.t.Dying():
			return nil
		}
	})
	return s.t.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request) (*registry.Session, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed backtest id")
		return nil, false
	}
	sess, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown backtest id")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset_name")
	sess, err := s.registry.Init(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown dataset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"backtest_id": sess.Id})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": Version,
		"dataset": sess.DatasetName,
	})
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"now":      sess.Exchange.Now(),
		"has_next": sess.Exchange.HasNext(),
	})
}

func (s *Server) handleFetchQuotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": sess.Exchange.FetchQuotes()})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}

	now := sess.Exchange.Now()
	dividends := sess.PriceSource().GetDividends(now)
	quotes := sess.PriceSource().GetQuotes(now)

	result := sess.Exchange.Tick()
	sess.Broker.Check(now, dividends, result, quotes)

	writeJSON(w, http.StatusOK, map[string]any{
		"has_next":             result.HasNext,
		"executed_trades":      result.Fills,
		"inserted_orders":      result.InsertedOrders,
		"modification_results": result.ModificationResults,
	})
}

// orderDTO is the wire shape of an order in insert_order requests.
type orderDTO struct {
	Kind     string  `json:"kind"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func parseOrderKind(s string) (types.OrderKind, bool) {
	switch s {
	case "MarketBuy":
		return types.MarketBuy, true
	case "MarketSell":
		return types.MarketSell, true
	case "LimitBuy":
		return types.LimitBuy, true
	case "LimitSell":
		return types.LimitSell, true
	case "StopBuy":
		return types.StopBuy, true
	case "StopSell":
		return types.StopSell, true
	default:
		return 0, false
	}
}

func (s *Server) handleInsertOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	var body struct {
		Order orderDTO `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed order")
		return
	}
	kind, ok := parseOrderKind(body.Order.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown order kind")
		return
	}
	o := types.Order{Kind: kind, Symbol: types.Symbol(body.Order.Symbol), Quantity: body.Order.Quantity, Price: body.Order.Price}
	if ev := sess.Broker.SendOrder(o); ev != broker.OrderSentToExchange {
		writeError(w, http.StatusBadRequest, "order invalid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

type orderIdDTO struct {
	OrderId uint64  `json:"order_id"`
	Delta   float64 `json:"quantity_delta"`
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	var body orderIdDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	sess.Broker.ModifyOrder(types.OrderId(body.OrderId), body.Delta)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	var body orderIdDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	sess.Broker.CancelOrder(types.OrderId(body.OrderId))
	writeJSON(w, http.StatusOK, map[string]any{})
}
