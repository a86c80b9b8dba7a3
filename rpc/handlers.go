package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crestchain/core"
	"crestchain/crypto"
	"crestchain/native/bonds"
	nativecommon "crestchain/native/common"
	"crestchain/native/reserve"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, raw string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer string")
		return nil, false
	}
	return amount, true
}

// writeOpError maps domain failures onto HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, reserve.ErrMarketHalted),
		errors.Is(err, reserve.ErrMarketNotOperable),
		errors.Is(err, reserve.ErrClockRegression):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bonds.ErrUnknownBond), errors.Is(err, core.ErrUnknownBond):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bonds.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type tradeRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type buyResponse struct {
	Minted     string `json:"minted"`
	SlipIn     string `json:"slip_in"`
	PegIn      string `json:"peg_in"`
	PriceAfter string `json:"price_after"`
	BearEnded  bool   `json:"bear_ended"`
	MajorBear  bool   `json:"major_bear"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	res, err := s.node.Buy(addr, amount)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyResponse{
		Minted:     res.Minted.String(),
		SlipIn:     res.SlipIn.String(),
		PegIn:      res.PegIn.String(),
		PriceAfter: res.PriceAfter.String(),
		BearEnded:  res.BearEnded,
		MajorBear:  res.MajorBear,
	})
}

type sellResponse struct {
	Payout     string `json:"payout"`
	PegOut     string `json:"peg_out"`
	SlipOut    string `json:"slip_out"`
	PriceAfter string `json:"price_after"`
	Halted     bool   `json:"halted"`
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	res, err := s.node.Sell(addr, amount)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sellResponse{
		Payout:     res.Payout.String(),
		PegOut:     res.PegOut.String(),
		SlipOut:    res.SlipOut.String(),
		PriceAfter: res.PriceAfter.String(),
		Halted:     res.Halted,
	})
}

type tickRequest struct {
	Tick uint64 `json:"tick"`
}

type tickResponse struct {
	Elapsed       uint64 `json:"elapsed"`
	Drained       string `json:"drained"`
	AccrualMinted string `json:"accrual_minted"`
	PriceAfter    string `json:"price_after"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.node.Tick(req.Tick)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{
		Elapsed:       res.Elapsed,
		Drained:       res.Drained.String(),
		AccrualMinted: res.AccrualMinted.String(),
		PriceAfter:    res.PriceAfter.String(),
	})
}

type reserveStateResponse struct {
	Price            string `json:"price"`
	ATHPrice         string `json:"ath_price"`
	Circulating      string `json:"circulating"`
	SlipPool         string `json:"slip_pool"`
	PegPool          string `json:"peg_pool"`
	LeverageCap      string `json:"leverage_cap"`
	LeverageRealized string `json:"leverage_realized"`
	LeverageTarget   string `json:"leverage_target"`
	ExpectedSelloff  string `json:"expected_selloff"`
	PegFloorSafety   string `json:"peg_floor_safety"`
	PegFloorDrain    string `json:"peg_floor_drain"`
	PegTarget        string `json:"peg_target"`
	Halted           bool   `json:"halted"`
	LastUpdateTick   uint64 `json:"last_update_tick"`
}

func (s *Server) handleReserveState(w http.ResponseWriter, _ *http.Request) {
	st := s.node.ReserveState()
	writeJSON(w, http.StatusOK, reserveStateResponse{
		Price:            st.Price.String(),
		ATHPrice:         st.ATHPrice.String(),
		Circulating:      st.Circulating.String(),
		SlipPool:         st.SlipPool.String(),
		PegPool:          st.PegPool.String(),
		LeverageCap:      st.LeverageCap.String(),
		LeverageRealized: st.LeverageRealized.String(),
		LeverageTarget:   st.LeverageTarget.String(),
		ExpectedSelloff:  st.ExpectedSelloff.String(),
		PegFloorSafety:   st.PegFloorSafety.String(),
		PegFloorDrain:    st.PegFloorDrain.String(),
		PegTarget:        st.PegTarget.String(),
		Halted:           st.Halted,
		LastUpdateTick:   st.LastUpdateTick,
	})
}

type bondOpenRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Policy  string `json:"policy"`
}

func (s *Server) handleBondOpen(w http.ResponseWriter, r *http.Request) {
	var req bondOpenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	policy, err := bonds.ParsePolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.node.BondOpen(addr, amount, policy)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bond_id": id})
}

type bondAddRequest struct {
	Address string `json:"address"`
	BondID  uint64 `json:"bond_id"`
	Amount  string `json:"amount"`
}

func (s *Server) handleBondAdd(w http.ResponseWriter, r *http.Request) {
	var req bondAddRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	if err := s.node.BondAdd(addr, req.BondID, amount); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bondSettleRequest struct {
	Address string `json:"address"`
	BondID  uint64 `json:"bond_id"`
}

func (s *Server) handleBondSettle(w http.ResponseWriter, r *http.Request) {
	var req bondSettleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	payout, removed, err := s.node.BondSettle(addr, req.BondID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payout":  payout.String(),
		"removed": removed,
	})
}

type bondPolicyRequest struct {
	Address string `json:"address"`
	BondID  uint64 `json:"bond_id"`
	Policy  string `json:"policy"`
}

func (s *Server) handleBondPolicy(w http.ResponseWriter, r *http.Request) {
	var req bondPolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	policy, err := bonds.ParsePolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.node.BondChangePolicy(addr, req.BondID, policy); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type closeEpochRequest struct {
	Tick uint64 `json:"tick"`
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	var req closeEpochRequest
	if !decodeBody(w, r, &req) {
		return
	}
	closed, err := s.node.CloseEpoch(req.Tick)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": closed})
}

type bondPositionResponse struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	Policy          string `json:"policy"`
	Balance         string `json:"balance"`
	Pending         string `json:"pending"`
	ActivationEpoch uint64 `json:"activation_epoch"`
	Original        string `json:"original"`
	LastSettled     uint64 `json:"last_settled"`
}

func (s *Server) handleBondPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bond id")
		return
	}
	pos, err := s.node.BondPosition(id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bondPositionResponse{
		ID:              pos.ID,
		Owner:           pos.Owner.String(),
		Policy:          pos.Policy.String(),
		Balance:         pos.Balance.String(),
		Pending:         pos.Pending.String(),
		ActivationEpoch: pos.ActivationEpoch,
		Original:        pos.Original.String(),
		LastSettled:     pos.LastSettled,
	})
}

func (s *Server) handleBondPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	ids := s.node.BondPositions(addr)
	writeJSON(w, http.StatusOK, map[string]any{"bond_ids": ids})
}

type bondEpochResponse struct {
	Index        uint64   `json:"index"`
	ClosedAtTick uint64   `json:"closed_at_tick"`
	Span         uint64   `json:"span"`
	TotalBefore  string   `json:"total_before"`
	TotalAfter   string   `json:"total_after"`
	Payout       []string `json:"payout"`
	Ratio        []string `json:"ratio"`
}

func (s *Server) handleBondEpoch(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch index")
		return
	}
	snap, ok := s.node.BondEpoch(index)
	if !ok {
		writeError(w, http.StatusNotFound, "epoch not closed yet")
		return
	}
	payout := make([]string, len(snap.Payout))
	ratio := make([]string, len(snap.Ratio))
	for i := range snap.Payout {
		payout[i] = snap.Payout[i].String()
		ratio[i] = snap.Ratio[i].String()
	}
	writeJSON(w, http.StatusOK, bondEpochResponse{
		Index:        snap.Index,
		ClosedAtTick: snap.ClosedAtTick,
		Span:         snap.Span,
		TotalBefore:  snap.TotalBefore().String(),
		TotalAfter:   snap.TotalAfter().String(),
		Payout:       payout,
		Ratio:        ratio,
	})
}

type totalsResponse struct {
	NativeSupply string `json:"native_supply"`
	BondLocked   string `json:"bond_locked"`
	EpochsClosed uint64 `json:"epochs_closed"`
	Collateral   string `json:"collateral"`
	Tick         uint64 `json:"tick"`
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request) {
	totals := s.node.Totals()
	writeJSON(w, http.StatusOK, totalsResponse{
		NativeSupply: totals.NativeSupply.String(),
		BondLocked:   totals.BondLocked.String(),
		EpochsClosed: totals.EpochsClosed,
		Collateral:   totals.Collateral.String(),
		Tick:         s.node.CurrentTick(),
	})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type pauseResponse struct {
	Paused []string `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.node.SetModulePaused(req.Module, req.Paused); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pauseResponse{Paused: s.node.PausedModules()})
}

func (s *Server) handlePauseList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pauseResponse{Paused: s.node.PausedModules()})
}

type faucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	if err := s.node.Faucet(addr, amount); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
