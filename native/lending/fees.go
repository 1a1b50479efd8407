package lending

import (
	"math/big"

	"lendledger/crypto"
	"lendledger/native/bank"
	nativecommon "lendledger/native/common"
)

// ClaimFees pays the full accrued protocol fee balance for one asset to the
// recipient. The ledger entry is zeroed and persisted before the funds leave
// the vault, so a replayed claim finds nothing to take.
func (e *Engine) ClaimFees(caller crypto.Address, asset string, recipient crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	norm, err := bank.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	amount, err := e.takeFees(norm)
	if err != nil {
		return nil, err
	}
	if err := e.payOut(norm, recipient, amount); err != nil {
		return nil, err
	}
	e.emit(newFeesClaimedEvent(norm, amount.String()))
	return amount, nil
}

// ClaimFeesBatch claims several assets in one call. Assets with a zero
// balance are skipped rather than failing the batch; the returned slice holds
// the paid amount per input asset, zeros included. An empty asset list is
// rejected.
func (e *Engine) ClaimFeesBatch(caller crypto.Address, assets []string, recipient crypto.Address) ([]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, errEmptyBatch
	}
	amounts := make([]*big.Int, len(assets))
	for i, asset := range assets {
		norm, err := bank.NormalizeAsset(asset)
		if err != nil {
			return nil, err
		}
		fees, err := e.loadFees()
		if err != nil {
			return nil, err
		}
		if fees.Balance(norm).Sign() == 0 {
			amounts[i] = big.NewInt(0)
			continue
		}
		amount := fees.Take(norm)
		if err := e.state.FeesPut(fees); err != nil {
			return nil, err
		}
		if err := e.payOut(norm, recipient, amount); err != nil {
			return nil, err
		}
		e.emit(newFeesClaimedEvent(norm, amount.String()))
		amounts[i] = amount
	}
	return amounts, nil
}

// ClaimAndSwapFees claims the accrued balance for one asset and routes it
// through a whitelisted swap service, delivering the final path asset to the
// recipient. The fee entry is zeroed before the swap is invoked.
func (e *Engine) ClaimAndSwapFees(caller crypto.Address, asset string, svc SwapService, path []string, minOut *big.Int, recipient crypto.Address, deadline int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if !e.swapAllowed(svc) {
		return nil, errSwapNotWhitelisted
	}
	norm, err := bank.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	normPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	if normPath[0] != norm {
		return nil, errInvalidPath
	}
	amount, err := e.takeFees(norm)
	if err != nil {
		return nil, err
	}
	out, err := e.swapFromVault(svc, norm, amount, minOut, normPath, recipient, deadline)
	if err != nil {
		return nil, err
	}
	e.emit(newFeesClaimedEvent(norm, amount.String()))
	return out, nil
}

// takeFees zeroes the fee entry for the asset and persists the ledger,
// failing when nothing has accrued.
func (e *Engine) takeFees(asset string) (*big.Int, error) {
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	amount := fees.Take(asset)
	if amount.Sign() == 0 {
		return nil, errNoFeesAccrued
	}
	if err := e.state.FeesPut(fees); err != nil {
		return nil, err
	}
	return amount, nil
}
