package factory

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
)

// MaxProtocolFee caps every protocol fee rate at 10%.
var MaxProtocolFee = curve.MustParse("100000000000000000")

// override is a collection operator's protocol fee. It applies only while
// the collection's authorization epoch still equals epoch.
type override struct {
	rate      *uint256.Int
	recipient common.Address
	epoch     uint64
}

// Authorization describes a collection's operator and fee override.
type Authorization struct {
	Collection common.Address `json:"collection"`
	Operator   common.Address `json:"operator"`
	Epoch      uint64         `json:"epoch"`
	// Override fields are zero when no override was ever set.
	OverrideRate      *uint256.Int   `json:"override_rate,omitempty"`
	OverrideRecipient common.Address `json:"override_recipient"`
	OverrideActive    bool           `json:"override_active"`
}

// GovernanceInfo is a snapshot of the protocol configuration.
type GovernanceInfo struct {
	Admin                common.Address   `json:"admin"`
	ProtocolFeeRate      *uint256.Int     `json:"protocol_fee_rate"`
	ProtocolFeeRecipient common.Address   `json:"protocol_fee_recipient"`
	AllowedCurves        []string         `json:"allowed_curves"`
	AllowedRouters       []common.Address `json:"allowed_routers"`
	Authorizations       []Authorization  `json:"authorizations"`
}

func (f *Factory) onlyAdmin(caller common.Address) error {
	if caller != f.admin {
		return fmt.Errorf("%w: %s is not the protocol admin", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (f *Factory) emitGovernance(typ domain.EventType, fields map[string]any) {
	f.host.Emit(typ, common.Address{}, fields)
}

// Admin returns the protocol admin.
func (f *Factory) Admin() common.Address { return f.admin }

// IsCurveAllowed reports whether pools may be created with the named curve.
func (f *Factory) IsCurveAllowed(name string) bool { return f.curves[name] }

// IsRouterAllowed reports whether router may trade with any pool.
func (f *Factory) IsRouterAllowed(router common.Address) bool { return f.routers[router] }

// ProtocolFee returns the collection's operator override while it is
// effective, else the global rate and recipient.
func (f *Factory) ProtocolFee(collection common.Address) (*uint256.Int, common.Address) {
	if o, ok := f.overrides[collection]; ok {
		if _, authorized := f.operators[collection]; authorized && o.epoch == f.epochs[collection] {
			return o.rate, o.recipient
		}
	}
	return f.feeRate, f.feeRecipient
}

// SetBondingCurveAllowed toggles a curve in the allow list.
func (f *Factory) SetBondingCurveAllowed(caller common.Address, name string, allowed bool) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if _, err := curve.Lookup(name); err != nil {
		return err
	}
	ledger.SetKey(f.host.Journal(), f.curves, name, allowed)
	f.emitGovernance(domain.EventCurveAllowed, map[string]any{"curve": name, "allowed": allowed})
	return nil
}

// SetRouterAllowed toggles a router in the whitelist.
func (f *Factory) SetRouterAllowed(caller, router common.Address, allowed bool) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if router == (common.Address{}) {
		return fmt.Errorf("%w: router is the zero address", domain.ErrValidation)
	}
	ledger.SetKey(f.host.Journal(), f.routers, router, allowed)
	f.emitGovernance(domain.EventRouterAllowed, map[string]any{"router": router.Hex(), "allowed": allowed})
	return nil
}

// ChangeProtocolFeeMultiplier sets the global protocol fee rate.
func (f *Factory) ChangeProtocolFeeMultiplier(caller common.Address, rate *uint256.Int) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if err := checkProtocolFee(rate); err != nil {
		return err
	}
	ledger.Set(f.host.Journal(), &f.feeRate, new(uint256.Int).Set(rate))
	f.emitGovernance(domain.EventProtocolFeeUpdated, map[string]any{"rate": rate.Dec()})
	return nil
}

// ChangeProtocolFeeRecipient sets the global protocol fee recipient.
func (f *Factory) ChangeProtocolFeeRecipient(caller, recipient common.Address) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient is the zero address", domain.ErrValidation)
	}
	ledger.Set(f.host.Journal(), &f.feeRecipient, recipient)
	f.emitGovernance(domain.EventProtocolFeeRecipientUpdated, map[string]any{"recipient": recipient.Hex()})
	return nil
}

// Authorize makes operator the fee operator of collection. Assigning a new
// operator starts a new authorization epoch, retiring any earlier override;
// re-authorizing the current operator keeps its override in force.
func (f *Factory) Authorize(caller, collection, operator common.Address) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if collection == (common.Address{}) || operator == (common.Address{}) {
		return fmt.Errorf("%w: collection and operator must be set", domain.ErrValidation)
	}
	epoch := f.epochs[collection]
	if current, ok := f.operators[collection]; !ok || current != operator {
		j := f.host.Journal()
		ledger.SetKey(j, f.operators, collection, operator)
		epoch++
		ledger.SetKey(j, f.epochs, collection, epoch)
	}
	f.emitGovernance(domain.EventCollectionAuthorized, map[string]any{
		"collection": collection.Hex(),
		"operator":   operator.Hex(),
		"epoch":      epoch,
	})
	return nil
}

// Unauthorize removes the collection's operator and retires its override.
func (f *Factory) Unauthorize(caller, collection common.Address) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if _, ok := f.operators[collection]; !ok {
		return fmt.Errorf("%w: collection %s has no operator", domain.ErrNotFound, collection.Hex())
	}
	j := f.host.Journal()
	ledger.DeleteKey(j, f.operators, collection)
	ledger.SetKey(j, f.epochs, collection, f.epochs[collection]+1)
	f.emitGovernance(domain.EventCollectionUnauthorized, map[string]any{"collection": collection.Hex()})
	return nil
}

// TransferAdmin hands the admin role to newAdmin.
func (f *Factory) TransferAdmin(caller, newAdmin common.Address) error {
	if err := f.onlyAdmin(caller); err != nil {
		return err
	}
	if newAdmin == (common.Address{}) {
		return fmt.Errorf("%w: admin is the zero address", domain.ErrValidation)
	}
	ledger.Set(f.host.Journal(), &f.admin, newAdmin)
	f.emitGovernance(domain.EventAdminTransferred, map[string]any{"admin": newAdmin.Hex()})
	return nil
}

// SetOperatorProtocolFee lets the collection's current operator override the
// protocol fee for its collection.
func (f *Factory) SetOperatorProtocolFee(caller, collection, recipient common.Address, rate *uint256.Int) error {
	op, ok := f.operators[collection]
	if !ok || op != caller {
		return fmt.Errorf("%w: %s is not the operator of %s", domain.ErrUnauthorized, caller.Hex(), collection.Hex())
	}
	if err := checkProtocolFee(rate); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient is the zero address", domain.ErrValidation)
	}
	epoch := f.epochs[collection]
	ledger.SetKey(f.host.Journal(), f.overrides, collection, override{
		rate:      new(uint256.Int).Set(rate),
		recipient: recipient,
		epoch:     epoch,
	})
	f.host.Emit(domain.EventFeeOverrideSet, common.Address{}, map[string]any{
		"collection": collection.Hex(),
		"operator":   caller.Hex(),
		"recipient":  recipient.Hex(),
		"rate":       rate.Dec(),
		"epoch":      epoch,
	})
	return nil
}

func checkProtocolFee(rate *uint256.Int) error {
	if rate == nil {
		return fmt.Errorf("%w: no protocol fee given", domain.ErrValidation)
	}
	if rate.Gt(MaxProtocolFee) {
		return fmt.Errorf("%w: protocol fee %s exceeds maximum %s", domain.ErrValidation, rate.Dec(), MaxProtocolFee.Dec())
	}
	return nil
}

// Governance returns a snapshot of the protocol configuration.
func (f *Factory) Governance() GovernanceInfo {
	info := GovernanceInfo{
		Admin:                f.admin,
		ProtocolFeeRate:      new(uint256.Int).Set(f.feeRate),
		ProtocolFeeRecipient: f.feeRecipient,
		AllowedCurves:        []string{},
		AllowedRouters:       []common.Address{},
		Authorizations:       []Authorization{},
	}
	for name, ok := range f.curves {
		if ok {
			info.AllowedCurves = append(info.AllowedCurves, name)
		}
	}
	sort.Strings(info.AllowedCurves)
	for r, ok := range f.routers {
		if ok {
			info.AllowedRouters = append(info.AllowedRouters, r)
		}
	}
	sortAddresses(info.AllowedRouters)

	seen := make(map[common.Address]struct{})
	var collections []common.Address
	for c := range f.operators {
		seen[c] = struct{}{}
		collections = append(collections, c)
	}
	for c := range f.overrides {
		if _, ok := seen[c]; !ok {
			collections = append(collections, c)
		}
	}
	sortAddresses(collections)
	for _, c := range collections {
		a := Authorization{Collection: c, Operator: f.operators[c], Epoch: f.epochs[c]}
		if o, ok := f.overrides[c]; ok {
			a.OverrideRate = new(uint256.Int).Set(o.rate)
			a.OverrideRecipient = o.recipient
			_, authorized := f.operators[c]
			a.OverrideActive = authorized && o.epoch == f.epochs[c]
		}
		info.Authorizations = append(info.Authorizations, a)
	}
	return info
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
}
