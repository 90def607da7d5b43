// Package api exposes the engine over REST plus a WebSocket stream of audit
// events. It is a thin read/submit surface; all validation lives in the
// engine.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/venuelabs/venue/pkg/util"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/book"
	"github.com/venuelabs/venue/pkg/venue/market"
)

type Server struct {
	log      *zap.Logger
	clock    util.Clock
	ex       *market.Exchange
	treasury venue.Treasury
	router   *mux.Router
	hub      *Hub
}

// NewServer builds the HTTP surface. The hub is injected rather than owned
// because it doubles as an event sink wired into the engine; pass nil to get
// a private hub with no engine feed.
func NewServer(log *zap.Logger, clock util.Clock, ex *market.Exchange, tr venue.Treasury, hub *Hub) *Server {
	if clock == nil {
		clock = util.RealClock{}
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		log:      log,
		clock:    clock,
		ex:       ex,
		treasury: tr,
		router:   mux.NewRouter(),
		hub:      hub,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub so it can be wired as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleOrderbook).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleBalance).Methods("GET")

	api.HandleFunc("/orders", s.handlePlace).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")

	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	type marketInfo struct {
		Symbol string `json:"symbol"`
		Base   string `json:"base"`
		Quote  string `json:"quote"`
	}
	var out []marketInfo
	for _, m := range s.ex.Markets().List() {
		out = append(out, marketInfo{Symbol: m.Symbol, Base: m.Base, Quote: m.Quote})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.ex.Markets().Get(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	bids, asks := m.Depth(50, s.clock.NowMs())
	writeJSON(w, http.StatusOK, map[string][]book.PriceLevel{"bids": bids, "asks": asks})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr := common.HexToAddress(vars["address"])
	writeJSON(w, http.StatusOK, map[string]uint64{
		"balance": s.ex.Funds().Balance(addr, vars["asset"]),
	})
}

type placeRequest struct {
	Market          string `json:"market"`
	Owner           string `json:"owner"`
	Side            string `json:"side"` // "bid" or "ask"
	Price           uint64 `json:"price"`
	Qty             uint64 `json:"qty"`
	TIF             string `json:"tif"` // "default", "ioc", "fok"
	ExpiryMs        uint64 `json:"expiry_ms"`
	DiscountPayment uint64 `json:"discount_payment"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side := venue.Bid
	if req.Side == "ask" {
		side = venue.Ask
	}
	tif := venue.TIFDefault
	switch req.TIF {
	case "ioc":
		tif = venue.TIFIOC
	case "fok":
		tif = venue.TIFFOK
	}
	res, err := s.ex.Place(market.PlaceRequest{
		Market:          req.Market,
		Owner:           common.HexToAddress(req.Owner),
		Side:            side,
		Price:           req.Price,
		Qty:             req.Qty,
		TIF:             tif,
		ExpiryMs:        req.ExpiryMs,
		DiscountPayment: req.DiscountPayment,
	}, s.treasury)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": res.OrderID.String(),
		"posted":   res.Posted,
		"filled":   res.FilledQty,
		"fee":      res.Fee,
	})
}

type cancelRequest struct {
	Market string `json:"market"`
	Owner  string `json:"owner"`
	IDHi   uint64 `json:"id_hi"`
	IDLo   uint64 `json:"id_lo"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := venue.OrderID{Hi: req.IDHi, Lo: req.IDLo}
	if err := s.ex.Cancel(req.Market, id, common.HexToAddress(req.Owner)); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
