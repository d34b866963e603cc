package server

import (
	"math/big"
	"net/http"

	"swapcore/native/htlc"
)

type transferRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

func (req transferRequest) parse() (*big.Int, [20]byte, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, [20]byte{}, err
	}
	to, err := parseIdentity("to", req.To)
	if err != nil {
		return nil, [20]byte{}, err
	}
	return amount, to, nil
}

func (s *Server) handleSetReporter(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Reporter string `json:"reporter"`
		Active   bool   `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reporter, err := parseIdentity("reporter", req.Reporter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("oracle", "set_authorized_reporter", func() error {
		return s.proto.Oracle.SetAuthorizedReporter(r.Context(), caller, reporter, req.Active)
	})
	s.finish(w, r, err)
}

func (s *Server) handleSetMinConfidence(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Value uint32 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.observe("oracle", "set_min_confidence", func() error {
		return s.proto.Oracle.SetMinConfidence(r.Context(), caller, req.Value)
	})
	s.finish(w, r, err)
}

func (s *Server) handleSetDecimals(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Asset    string `json:"asset"`
		Decimals uint8  `json:"decimals"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.observe("oracle", "set_asset_decimals", func() error {
		return s.proto.Oracle.SetAssetDecimals(r.Context(), caller, req.Asset, req.Decimals)
	})
	s.finish(w, r, err)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.observe("access", "set_paused", func() error {
		return s.proto.Access.SetPaused(r.Context(), caller, req.Module, req.Paused)
	})
	s.finish(w, r, err)
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		Admin string `json:"admin"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := parseIdentity("admin", req.Admin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("access", "transfer_admin", func() error {
		return s.proto.Access.TransferAdmin(r.Context(), caller, next)
	})
	s.finish(w, r, err)
}

func (s *Server) handleSetHTLCParams(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req struct {
		FeeBps       uint32 `json:"fee_bps"`
		ToleranceBps uint32 `json:"tolerance_bps"`
		MinTimelock  int64  `json:"min_timelock"`
		MaxTimelock  int64  `json:"max_timelock"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params := htlc.Params{
		FeeBps:       req.FeeBps,
		ToleranceBps: req.ToleranceBps,
		MinTimelock:  req.MinTimelock,
		MaxTimelock:  req.MaxTimelock,
	}
	err := s.observe("htlc", "set_params", func() error {
		return s.proto.Ledger.SetParams(r.Context(), caller, params)
	})
	s.finish(w, r, err)
}

func (s *Server) handleWithdrawHTLCFees(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, to, err := req.parse()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("htlc", "withdraw_fees", func() error {
		return s.proto.Ledger.WithdrawFees(r.Context(), caller, req.Asset, amount, to)
	})
	s.finish(w, r, err)
}

func (s *Server) handleWithdrawRouterFees(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, to, err := req.parse()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("router", "withdraw_fees", func() error {
		return s.proto.Router.WithdrawFees(r.Context(), caller, req.Asset, amount, to)
	})
	s.finish(w, r, err)
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, to, err := req.parse()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe("router", "rescue_tokens", func() error {
		return s.proto.Router.RescueTokens(r.Context(), caller, req.Asset, amount, to)
	})
	s.finish(w, r, err)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
