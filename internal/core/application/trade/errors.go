package trade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrOfferAlreadyUsed is returned when taking an offer whose id is
	// already bound to a pending, closed, failed or swap trade.
	ErrOfferAlreadyUsed = errors.New("offer was already used in a trade")
	// ErrOfferNotAvailable is returned when the maker doesn't confirm the
	// availability of the offer.
	ErrOfferNotAvailable = errors.New("offer is not available")
	// ErrInsufficientFunds is returned when the funding address of the offer
	// doesn't hold enough to take it.
	ErrInsufficientFunds = errors.New("insufficient funds to take offer")
	// ErrUnconfirmedTxLimitHit is returned when the funding address has too
	// many unconfirmed outputs.
	ErrUnconfirmedTxLimitHit = errors.New("too many unconfirmed transactions")
	// ErrTradeNotActive is returned when triggering a trade that has no
	// running protocol.
	ErrTradeNotActive = errors.New("trade is not active")
	// ErrTradeNotFailed ...
	ErrTradeNotFailed = errors.New("trade is not in the failed list")
	// ErrNotInitialized is returned by the operations that require the
	// persisted trades to be loaded.
	ErrNotInitialized = errors.New("trade manager not initialized yet")
	// ErrClosedTradeFundsLocked marks a closed trade that still has funds in
	// its multisig although no deposit tx is known or its payout was never
	// published.
	ErrClosedTradeFundsLocked = errors.New("closed trade has funds locked in multisig")
	// ErrFailedTradeFundsLocked marks a failed trade that still has funds in
	// its multisig.
	ErrFailedTradeFundsLocked = errors.New("failed trade has funds locked in multisig")
)

// LockedFundsError lists every closed and failed trade found with funds
// still locked in their multisig.
type LockedFundsError struct {
	ClosedTradeIds []string
	FailedTradeIds []string

	errs *multierror.Error
}

func (e *LockedFundsError) add(sentinel error, tradeID string) {
	switch sentinel {
	case ErrClosedTradeFundsLocked:
		e.ClosedTradeIds = append(e.ClosedTradeIds, tradeID)
	case ErrFailedTradeFundsLocked:
		e.FailedTradeIds = append(e.FailedTradeIds, tradeID)
	}
	e.errs = multierror.Append(e.errs, fmt.Errorf("%w: %s", sentinel, tradeID))
}

func (e *LockedFundsError) errorOrNil() error {
	if e.errs.ErrorOrNil() == nil {
		return nil
	}
	return e
}

func (e *LockedFundsError) Error() string {
	if e.errs == nil {
		return "no locked funds"
	}
	msgs := make([]string, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf(
		"%d trade(s) with locked funds: %s", len(msgs), strings.Join(msgs, "; "),
	)
}

// Unwrap allows errors.Is to match any of the collected inconsistencies.
func (e *LockedFundsError) Unwrap() error {
	return e.errs.Unwrap()
}
