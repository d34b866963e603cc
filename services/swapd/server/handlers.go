package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"swapcore/crypto"
	"swapcore/native/common"
	"swapcore/native/htlc"
	"swapcore/native/oracle"
	"swapcore/native/router"
)

type priceResponse struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Decimals  *uint8 `json:"decimals,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
	Valid     bool   `json:"valid"`
}

type recommendationResponse struct {
	Key            string `json:"key"`
	FromAsset      string `json:"from_asset"`
	ToAsset        string `json:"to_asset"`
	ExpectedAmount string `json:"expected_amount"`
	Confidence     uint32 `json:"confidence"`
	CreatedAt      int64  `json:"created_at"`
	Valid          bool   `json:"valid"`
}

type swapResponse struct {
	Key         string `json:"key"`
	Status      string `json:"status"`
	Initiator   string `json:"initiator"`
	Recipient   string `json:"recipient"`
	FromAsset   string `json:"from_asset"`
	ToAsset     string `json:"to_asset"`
	FromAmount  string `json:"from_amount"`
	ToAmount    string `json:"to_amount"`
	Fee         string `json:"fee"`
	Hashlock    string `json:"hashlock"`
	Expiry      int64  `json:"expiry"`
	CreatedAt   int64  `json:"created_at"`
	Secret      string `json:"secret,omitempty"`
	OraclePrice string `json:"oracle_price"`
	Confidence  uint32 `json:"confidence"`
}

type quoteResponse struct {
	Route          string `json:"route"`
	ExpectedOutput string `json:"expected_output"`
	Confidence     uint32 `json:"confidence"`
	Fee            string `json:"fee"`
	NetAmount      string `json:"net_amount"`
	Price          string `json:"price"`
}

type executionResponse struct {
	Key             string `json:"key"`
	Caller          string `json:"caller"`
	FromAsset       string `json:"from_asset"`
	ToAsset         string `json:"to_asset"`
	RequestedAmount string `json:"requested_amount"`
	QuotedAmount    string `json:"quoted_amount"`
	ActualAmount    string `json:"actual_amount"`
	Fee             string `json:"fee"`
	Outcome         string `json:"outcome"`
	Route           string `json:"route,omitempty"`
	ExecutedAt      int64  `json:"executed_at"`
}

type keyResponse struct {
	Key string `json:"key"`
}

func recommendationView(rec oracle.SwapRecommendation) recommendationResponse {
	return recommendationResponse{
		Key:            crypto.HexKey(rec.Key),
		FromAsset:      rec.FromAsset,
		ToAsset:        rec.ToAsset,
		ExpectedAmount: amountString(rec.ExpectedAmount),
		Confidence:     rec.Confidence,
		CreatedAt:      rec.CreatedAt,
		Valid:          rec.Valid,
	}
}

func swapView(swap *htlc.Swap, status htlc.Status) swapResponse {
	return swapResponse{
		Key:         crypto.HexKey(swap.Key),
		Status:      string(status),
		Initiator:   crypto.FormatIdentity(swap.Initiator),
		Recipient:   crypto.FormatIdentity(swap.Recipient),
		FromAsset:   swap.FromAsset,
		ToAsset:     swap.ToAsset,
		FromAmount:  amountString(swap.FromAmount),
		ToAmount:    amountString(swap.ToAmount),
		Fee:         amountString(swap.Fee),
		Hashlock:    crypto.HexKey(swap.Hashlock),
		Expiry:      swap.Expiry,
		CreatedAt:   swap.CreatedAt,
		Secret:      hexBytes(swap.Secret),
		OraclePrice: amountString(swap.OraclePrice),
		Confidence:  swap.Confidence,
	}
}

func executionView(exec *router.Execution) executionResponse {
	return executionResponse{
		Key:             crypto.HexKey(exec.Key),
		Caller:          crypto.FormatIdentity(exec.Caller),
		FromAsset:       exec.FromAsset,
		ToAsset:         exec.ToAsset,
		RequestedAmount: amountString(exec.RequestedAmount),
		QuotedAmount:    amountString(exec.QuotedAmount),
		ActualAmount:    amountString(exec.ActualAmount),
		Fee:             amountString(exec.Fee),
		Outcome:         exec.Outcome,
		Route:           hexBytes(exec.Route),
		ExecutedAt:      exec.ExecutedAt,
	}
}

// observe runs one protocol call and records its outcome.
func (s *Server) observe(module, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = common.KindOf(err).String()
	}
	s.metrics.ObserveOperation(module, operation, outcome, time.Since(start))
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sequence": s.proto.State.LastSequence(),
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	feed := s.proto.Oracle.GetPrice(r.Context(), chi.URLParam(r, "asset"))
	resp := priceResponse{
		Asset:     feed.Asset,
		Price:     amountString(feed.Price),
		UpdatedAt: feed.UpdatedAt,
		Valid:     feed.Valid,
	}
	if decimals, ok, err := s.proto.Oracle.AssetDecimals(r.Context(), feed.Asset); err == nil && ok {
		resp.Decimals = &decimals
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Asset string `json:"asset"`
		Price string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("oracle", "update_price_feed", func() error {
		return s.proto.Oracle.UpdatePriceFeed(r.Context(), caller, req.Asset, price)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidatePrice(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	asset := chi.URLParam(r, "asset")
	err := s.observe("oracle", "invalidate_price_feed", func() error {
		return s.proto.Oracle.InvalidatePriceFeed(r.Context(), caller, asset)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRecommendation(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		FromAsset      string `json:"from_asset"`
		ToAsset        string `json:"to_asset"`
		ExpectedAmount string `json:"expected_amount"`
		Confidence     uint32 `json:"confidence"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	expected, err := parseAmount("expected_amount", req.ExpectedAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var key [32]byte
	err = s.observe("oracle", "create_swap_recommendation", func() error {
		var err error
		key, err = s.proto.Oracle.CreateSwapRecommendation(r.Context(), caller, req.FromAsset, req.ToAsset, expected, req.Confidence)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Key: crypto.HexKey(key)})
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationView(s.proto.Oracle.GetSwapRecommendation(r.Context(), key)))
}

func (s *Server) handleInvalidateRecommendation(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("oracle", "invalidate_recommendation", func() error {
		return s.proto.Oracle.InvalidateRecommendation(r.Context(), caller, key)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInitiateSwap(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Recipient         string `json:"recipient"`
		FromAsset         string `json:"from_asset"`
		ToAsset           string `json:"to_asset"`
		FromAmount        string `json:"from_amount"`
		ToAmount          string `json:"to_amount"`
		Hashlock          string `json:"hashlock"`
		Expiry            int64  `json:"expiry"`
		RecommendationKey string `json:"recommendation_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	initiate := htlc.InitiateRequest{FromAsset: req.FromAsset, ToAsset: req.ToAsset, Expiry: req.Expiry}
	var err error
	if initiate.Recipient, err = parseIdentity("recipient", req.Recipient); err != nil {
		s.writeError(w, r, err)
		return
	}
	if initiate.FromAmount, err = parseAmount("from_amount", req.FromAmount); err != nil {
		s.writeError(w, r, err)
		return
	}
	if initiate.ToAmount, err = parseAmount("to_amount", req.ToAmount); err != nil {
		s.writeError(w, r, err)
		return
	}
	if initiate.Hashlock, err = parseKey("hashlock", req.Hashlock); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecommendationKey != "" {
		if initiate.RecommendationKey, err = parseKey("recommendation_key", req.RecommendationKey); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var key [32]byte
	err = s.observe("htlc", "initiate_swap", func() error {
		var err error
		key, err = s.proto.Ledger.InitiateSwap(r.Context(), caller, initiate)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Key: crypto.HexKey(key)})
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	swap, ok := s.proto.Ledger.GetSwap(r.Context(), key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "swap not found"})
		return
	}
	writeJSON(w, http.StatusOK, swapView(swap, swap.StatusAt(s.proto.State.Now())))
}

func (s *Server) handleWithdrawSwap(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	secret, err := parseHexBytes("secret", req.Secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("htlc", "withdraw", func() error {
		return s.proto.Ledger.Withdraw(r.Context(), caller, key, secret)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefundSwap(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("htlc", "refund", func() error {
		return s.proto.Ledger.Refund(r.Context(), caller, key)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	amount, err := parseAmount("amount", query.Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var quote router.Quote
	err = s.observe("router", "get_optimal_route", func() error {
		var err error
		quote, err = s.proto.Router.GetOptimalRoute(r.Context(), query.Get("from"), query.Get("to"), amount)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Route:          hexBytes(quote.Route),
		ExpectedOutput: amountString(quote.ExpectedOutput),
		Confidence:     quote.Confidence,
		Fee:            amountString(quote.Fee),
		NetAmount:      amountString(quote.NetAmount),
		Price:          amountString(quote.Price),
	})
}

func (s *Server) handleExecuteSwap(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		FromAsset string `json:"from_asset"`
		ToAsset   string `json:"to_asset"`
		Amount    string `json:"amount"`
		MinOutput string `json:"min_output"`
		Route     string `json:"route"`
		Value     string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	exec := router.ExecuteRequest{FromAsset: req.FromAsset, ToAsset: req.ToAsset}
	var err error
	if exec.Amount, err = parseAmount("amount", req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	if exec.MinOutput, err = parseAmount("min_output", req.MinOutput); err != nil {
		s.writeError(w, r, err)
		return
	}
	if exec.Route, err = parseHexBytes("route", req.Route); err != nil {
		s.writeError(w, r, err)
		return
	}
	if exec.Value, err = parseOptionalAmount("value", req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	var record *router.Execution
	err = s.observe("router", "execute_swap", func() error {
		var err error
		record, err = s.proto.Router.Execute(r.Context(), caller, exec)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, executionView(record))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exec, ok := s.proto.Router.GetExecution(r.Context(), key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "execution not found"})
		return
	}
	writeJSON(w, http.StatusOK, executionView(exec))
}
