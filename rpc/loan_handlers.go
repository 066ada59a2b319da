package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"vaultchain/core/state"
	"vaultchain/crypto"
	"vaultchain/native/loan"
)

type vaultResult struct {
	VaultID            string        `json:"vaultId"`
	LoanSchemeID       string        `json:"loanSchemeId"`
	OwnerAddress       string        `json:"ownerAddress"`
	State              string        `json:"state"`
	CollateralAmounts  []string      `json:"collateralAmounts"`
	LoanAmounts        []string      `json:"loanAmounts"`
	InterestAmounts    []string      `json:"interestAmounts"`
	CollateralValue    string        `json:"collateralValue"`
	LoanValue          string        `json:"loanValue"`
	InterestValue      string        `json:"interestValue"`
	CollateralRatio    uint32        `json:"collateralRatio"`
	InformativeRatio   string        `json:"informativeRatio"`
	CreationHeight     uint64        `json:"creationHeight"`
	LiquidationHeight  uint64        `json:"liquidationHeight,omitempty"`
	LiquidationPenalty string        `json:"liquidationPenalty,omitempty"`
	BatchCount         int           `json:"batchCount,omitempty"`
	Batches            []batchResult `json:"batches,omitempty"`
}

type batchResult struct {
	Index      uint32   `json:"index"`
	Collateral []string `json:"collaterals"`
	Loans      []string `json:"loan"`
	Penalty    []string `json:"penalty"`
}

type vaultSummaryResult struct {
	VaultID      string `json:"vaultId"`
	OwnerAddress string `json:"ownerAddress"`
	LoanSchemeID string `json:"loanSchemeId"`
	State        string `json:"state"`
}

type listVaultsOptions struct {
	OwnerAddress string `json:"ownerAddress,omitempty"`
	LoanSchemeID string `json:"loanSchemeId,omitempty"`
	State        string `json:"state,omitempty"`
}

type paginationParams struct {
	Start          string `json:"start,omitempty"`
	IncludingStart *bool  `json:"including_start,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type estimateParams struct {
	CollateralAmounts []string `json:"collateralAmounts"`
	LoanAmounts       []string `json:"loanAmounts"`
	LoanSchemeID      string   `json:"loanSchemeId,omitempty"`
}

type estimateResult struct {
	CollateralValue    string `json:"collateralValue"`
	LoanValue          string `json:"loanValue"`
	InformativeRatio   string `json:"informativeRatio"`
	CollateralRatio    uint32 `json:"collateralRatio"`
	MinCollateralRatio uint64 `json:"minColRatio,omitempty"`
	Overflowed         bool   `json:"overflowed,omitempty"`
}

type interestResult struct {
	Token            string `json:"token"`
	TotalInterest    string `json:"totalInterest"`
	InterestPerBlock string `json:"interestPerBlock"`
}

type schemeResult struct {
	ID                 string `json:"id"`
	MinCollateralRatio uint64 `json:"mincolratio"`
	InterestRate       string `json:"interestrate"`
	Default            bool   `json:"default"`
	DestructionHeight  uint64 `json:"destructionHeight,omitempty"`
}

type accountResult struct {
	Address  string   `json:"address"`
	Balances []string `json:"balances"`
}

type priceResult struct {
	Feed   string `json:"feed"`
	Price  string `json:"price"`
	Height uint64 `json:"height"`
	Live   bool   `json:"live"`
}

type tokenResult struct {
	Symbol           string `json:"symbol"`
	Name             string `json:"name,omitempty"`
	Decimals         uint8  `json:"decimals"`
	Mintable         bool   `json:"mintable"`
	Collateral       bool   `json:"collateral"`
	CollateralFactor string `json:"collateralFactor,omitempty"`
	Loan             bool   `json:"loan"`
	LoanInterest     string `json:"loanInterest,omitempty"`
	PriceFeed        string `json:"priceFeed"`
	Supply           string `json:"supply"`
}

func newVaultResult(view *loan.VaultView) vaultResult {
	result := vaultResult{
		VaultID:           view.ID,
		LoanSchemeID:      view.SchemeID,
		OwnerAddress:      view.Owner.String(),
		State:             view.State,
		CollateralAmounts: view.CollateralAmounts.Strings(),
		LoanAmounts:       view.LoanAmounts.Strings(),
		InterestAmounts:   view.InterestAmounts.Strings(),
		CollateralValue:   view.CollateralValue.String(),
		LoanValue:         view.LoanValue.String(),
		InterestValue:     view.InterestValue.String(),
		CollateralRatio:   view.CollateralRatio,
		InformativeRatio:  view.InformativeRatio.String(),
		CreationHeight:    view.CreationHeight,
		LiquidationHeight: view.LiquidationHeight,
		BatchCount:        view.BatchCount,
	}
	if view.LiquidationHeight != 0 {
		result.LiquidationPenalty = view.LiquidationPenalty.String()
	}
	for _, batch := range view.Batches {
		result.Batches = append(result.Batches, batchResult{
			Index:      batch.Index,
			Collateral: batch.Collateral.Strings(),
			Loans:      batch.Loans.Strings(),
			Penalty:    batch.Penalty.Strings(),
		})
	}
	return result
}

func newSchemeResult(view loan.SchemeView) schemeResult {
	return schemeResult{
		ID:                 view.ID,
		MinCollateralRatio: view.MinCollateralRatio,
		InterestRate:       view.InterestRate.String(),
		Default:            view.Default,
		DestructionHeight:  view.DestructionHeight,
	}
}

// decodeParam unmarshals the positional parameter at index into out. Missing
// optional parameters leave out untouched.
func decodeParam(req *RPCRequest, index int, required bool, out interface{}) error {
	if index >= len(req.Params) || string(req.Params[index]) == "null" {
		if required {
			return fmt.Errorf("parameter %d required", index)
		}
		return nil
	}
	return json.Unmarshal(req.Params[index], out)
}

func expectParams(w http.ResponseWriter, req *RPCRequest, max int) bool {
	if len(req.Params) > max {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return false
	}
	return true
}

func (s *Server) handleBlockCount(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 0) {
		return
	}
	writeResult(w, req.ID, s.backend.Height())
}

func (s *Server) handleGetVault(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 1) {
		return
	}
	var id string
	if err := decodeParam(req, 0, true, &id); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "vaultId required", err.Error())
		return
	}
	var result vaultResult
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		view, err := engine.GetVault(strings.TrimSpace(id))
		if err != nil {
			return err
		}
		result = newVaultResult(view)
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListVaults(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 2) {
		return
	}
	var opts listVaultsOptions
	if err := decodeParam(req, 0, false, &opts); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid options", err.Error())
		return
	}
	var page paginationParams
	if err := decodeParam(req, 1, false, &page); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pagination", err.Error())
		return
	}
	filter := loan.ListFilter{SchemeID: opts.LoanSchemeID, State: opts.State}
	if owner := strings.TrimSpace(opts.OwnerAddress); owner != "" {
		addr, err := crypto.DecodeAddress(owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ownerAddress", err.Error())
			return
		}
		filter.Owner = &addr
	}
	if page.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "limit must not be negative", nil)
		return
	}
	out := []vaultSummaryResult{}
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		vaults, err := engine.ListVaults(filter, loan.Pagination{
			Start:          page.Start,
			IncludingStart: page.IncludingStart,
			Limit:          page.Limit,
		})
		if err != nil {
			return err
		}
		for _, v := range vaults {
			out = append(out, vaultSummaryResult{
				VaultID:      v.ID,
				OwnerAddress: v.Owner.String(),
				LoanSchemeID: v.SchemeID,
				State:        v.State,
			})
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEstimateVault(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 1) {
		return
	}
	var params estimateParams
	if err := decodeParam(req, 0, true, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", err.Error())
		return
	}
	collateral, err := loan.ParseTokenAmounts(params.CollateralAmounts)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	loans, err := loan.ParseTokenAmounts(params.LoanAmounts)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	var result estimateResult
	err = s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		estimate, err := engine.EstimateVault(collateral, loans, params.LoanSchemeID)
		if err != nil {
			return err
		}
		result = estimateResult{
			CollateralValue:    estimate.CollateralValue.String(),
			LoanValue:          estimate.LoanValue.String(),
			InformativeRatio:   estimate.InformativeRatio.String(),
			CollateralRatio:    estimate.CollateralRatio,
			MinCollateralRatio: estimate.MinCollateralRatio,
			Overflowed:         estimate.Overflowed,
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetInterest(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 2) {
		return
	}
	var schemeID, token string
	if err := decodeParam(req, 0, true, &schemeID); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "loanSchemeId required", err.Error())
		return
	}
	if err := decodeParam(req, 1, false, &token); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token", err.Error())
		return
	}
	out := []interestResult{}
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		summaries, err := engine.GetInterest(schemeID, token)
		if err != nil {
			return err
		}
		for _, entry := range summaries {
			out = append(out, interestResult{
				Token:            entry.Token,
				TotalInterest:    entry.TotalInterest.String(),
				InterestPerBlock: entry.InterestPerBlock.String(),
			})
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleListLoanSchemes(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 0) {
		return
	}
	out := []schemeResult{}
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		schemes, err := engine.ListLoanSchemes()
		if err != nil {
			return err
		}
		for _, scheme := range schemes {
			out = append(out, newSchemeResult(scheme))
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetLoanScheme(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 1) {
		return
	}
	var id string
	if err := decodeParam(req, 0, true, &id); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "id required", err.Error())
		return
	}
	var result schemeResult
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		scheme, err := engine.GetLoanScheme(id)
		if err != nil {
			return err
		}
		result = newSchemeResult(*scheme)
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBurnInfo(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 0) {
		return
	}
	var burned []string
	err := s.backend.Query(func(engine *loan.Engine, _ *state.Manager) error {
		fees, err := engine.BurnInfo()
		if err != nil {
			return err
		}
		burned = fees.Strings()
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string][]string{"feeburn": burned})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 1) {
		return
	}
	var raw string
	if err := decodeParam(req, 0, true, &raw); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", err.Error())
		return
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	result := accountResult{Address: addr.String()}
	err = s.backend.Query(func(_ *loan.Engine, mgr *state.Manager) error {
		balances, err := mgr.Balances(addr)
		if err != nil {
			return err
		}
		result.Balances = balances.Strings()
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListPrices(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 0) {
		return
	}
	out := []priceResult{}
	err := s.backend.Query(func(_ *loan.Engine, mgr *state.Manager) error {
		prices, err := mgr.Prices()
		if err != nil {
			return err
		}
		for _, p := range prices {
			out = append(out, priceResult{
				Feed:   p.Feed,
				Price:  loan.Amount(p.Price).String(),
				Height: p.Height,
				Live:   p.Live,
			})
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleListTokens(w http.ResponseWriter, req *RPCRequest) {
	if !expectParams(w, req, 0) {
		return
	}
	out := []tokenResult{}
	err := s.backend.Query(func(_ *loan.Engine, mgr *state.Manager) error {
		tokens, err := mgr.Tokens()
		if err != nil {
			return err
		}
		for _, meta := range tokens {
			supply, err := mgr.TokenSupply(meta.Symbol)
			if err != nil {
				return err
			}
			entry := tokenResult{
				Symbol:     meta.Symbol,
				Name:       meta.Name,
				Decimals:   meta.Decimals,
				Mintable:   meta.Mintable,
				Collateral: meta.Collateral,
				Loan:       meta.Loan,
				PriceFeed:  meta.PriceFeedID,
				Supply:     supply.String(),
			}
			if meta.Collateral {
				entry.CollateralFactor = loan.Amount(meta.CollateralFactor).String()
			}
			if meta.Loan {
				entry.LoanInterest = loan.Amount(meta.LoanInterest).String()
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, out)
}
