package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
)

// ChangeSpotPrice sets a new spot price.
func (p *Pool) ChangeSpotPrice(caller common.Address, spot *uint256.Int) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if spot == nil || !p.curve.ValidateSpotPrice(spot) {
		return fmt.Errorf("%w: spot price invalid for %s curve", domain.ErrValidation, p.curve.Name())
	}
	old := p.setSpot(new(uint256.Int).Set(spot))
	p.emitSpot(old, spot)
	return nil
}

// ChangeDelta sets a new delta.
func (p *Pool) ChangeDelta(caller common.Address, delta *uint256.Int) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if delta == nil || !p.curve.ValidateDelta(delta) {
		return fmt.Errorf("%w: delta invalid for %s curve", domain.ErrValidation, p.curve.Name())
	}
	old := p.delta
	ledger.Set(p.env.Host.Journal(), &p.delta, new(uint256.Int).Set(delta))
	p.emit(domain.EventDeltaUpdated, map[string]any{"old_delta": old.Dec(), "delta": delta.Dec()})
	return nil
}

// ChangeFee sets the trade fee of a Trade pool.
func (p *Pool) ChangeFee(caller common.Address, fee *uint256.Int) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if fee == nil {
		return fmt.Errorf("%w: no fee given", domain.ErrValidation)
	}
	if p.poolType != domain.PoolTypeTrade {
		return fmt.Errorf("%w: only trade pools may charge a fee", domain.ErrValidation)
	}
	if err := checkFee(p.poolType, fee); err != nil {
		return err
	}
	old := p.feeRate
	ledger.Set(p.env.Host.Journal(), &p.feeRate, new(uint256.Int).Set(fee))
	p.emit(domain.EventFeeUpdated, map[string]any{"old_fee": old.Dec(), "fee": fee.Dec()})
	return nil
}

// ChangeAssetRecipient redirects a non-Trade pool's proceeds.
func (p *Pool) ChangeAssetRecipient(caller, recipient common.Address) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if p.poolType == domain.PoolTypeTrade {
		return fmt.Errorf("%w: trade pools keep their proceeds", domain.ErrValidation)
	}
	ledger.Set(p.env.Host.Journal(), &p.assetRecipient, recipient)
	p.emit(domain.EventAssetRecipientUpdated, map[string]any{"asset_recipient": recipient.Hex()})
	return nil
}

// TransferOwnership hands the pool to a new owner.
func (p *Pool) TransferOwnership(caller, newOwner common.Address) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: new owner is the zero address", domain.ErrValidation)
	}
	old := p.owner
	ledger.Set(p.env.Host.Journal(), &p.owner, newOwner)
	p.emit(domain.EventOwnershipTransferred, map[string]any{"old_owner": old.Hex(), "owner": newOwner.Hex()})
	return nil
}

// WithdrawUnits sends held units to the owner.
func (p *Pool) WithdrawUnits(caller common.Address, ids []uint64, qty uint64) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	sel, err := p.inv.forUnits(ids, qty)
	if err != nil {
		return err
	}
	if err := p.inv.checkHolder(p.addr, p.addr, sel); err != nil {
		return err
	}
	p.inv.remove(sel)
	if err := p.inv.transfer(p.addr, p.addr, p.owner, sel); err != nil {
		return settlementError("unit withdrawal", err)
	}
	p.emit(domain.EventUnitsWithdrawn, map[string]any{"to": p.owner.Hex(), "unit_ids": sel.ids, "quantity": sel.qty})
	return nil
}

// WithdrawCurrency sends amount of the pool's currency to the owner.
func (p *Pool) WithdrawCurrency(caller common.Address, amount *uint256.Int) error {
	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: zero withdrawal", domain.ErrValidation)
	}
	if bal := p.env.Currency.BalanceOf(p.addr); bal.Lt(amount) {
		return fmt.Errorf("%w: pool balance %s below %s", domain.ErrInventory, bal.Dec(), amount.Dec())
	}
	if err := p.env.Currency.Transfer(p.addr, p.owner, amount); err != nil {
		return settlementError("currency withdrawal", err)
	}
	p.emit(domain.EventCurrencyWithdrawn, map[string]any{"to": p.owner.Hex(), "amount": amount.Dec()})
	return nil
}

// DepositUnits moves units from holder into the pool with operator acting
// for the holder. Anyone may deposit.
func (p *Pool) DepositUnits(operator, holder common.Address, ids []uint64, qty uint64) error {
	sel, err := p.inv.forUnits(ids, qty)
	if err != nil {
		return err
	}
	if err := p.inv.checkHolder(holder, operator, sel); err != nil {
		return err
	}
	p.inv.add(sel)
	if err := p.inv.transfer(operator, holder, p.addr, sel); err != nil {
		return settlementError("unit deposit", err)
	}
	p.emit(domain.EventUnitsDeposited, map[string]any{"from": holder.Hex(), "unit_ids": sel.ids, "quantity": sel.qty})
	return nil
}

// DepositCurrency moves amount from holder into the pool. With spender equal
// to holder the holder sends directly, otherwise spender pulls.
func (p *Pool) DepositCurrency(spender, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: zero deposit", domain.ErrValidation)
	}
	if bal := p.env.Currency.BalanceOf(holder); bal.Lt(amount) {
		return fmt.Errorf("%w: balance %s below deposit %s", domain.ErrInventory, bal.Dec(), amount.Dec())
	}
	if err := p.pay(spender, holder, p.addr, amount); err != nil {
		return settlementError("currency deposit", err)
	}
	p.emit(domain.EventCurrencyDeposited, map[string]any{"from": holder.Hex(), "amount": amount.Dec()})
	return nil
}
