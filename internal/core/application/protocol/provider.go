package protocol

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/offer"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/wallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
)

// Config holds the protocol parameters shared by all trades.
type Config struct {
	Network *chaincfg.Params
	// FeeAddress receives the taker fee.
	FeeAddress string
	// LockTimeDelta is the number of blocks after which the delayed payout
	// tx can be published.
	LockTimeDelta uint32
	// Confirmations is the number of confirmations for the deposit tx to be
	// considered confirmed.
	Confirmations uint32
}

// Provider bundles the collaborators the tasks need.
type Provider struct {
	Config      Config
	Repository  domain.TradeRepository
	Wallet      *wallet.Service
	TradeWallet ports.TradeWallet
	Chain       ports.ChainService
	KeyRing     ports.KeyRing
	Delivery    *delivery.Service
	Disputes    ports.DisputeAgentSelector
	Offers      *offer.Service
	Crawler     crawler.Service
}

// Validate makes sure no collaborator is missing.
func (p *Provider) Validate() error {
	if p.Config.Network == nil {
		return fmt.Errorf("missing network")
	}
	if p.Config.LockTimeDelta == 0 {
		return fmt.Errorf("missing lock time delta")
	}
	if p.Repository == nil {
		return fmt.Errorf("missing trade repository")
	}
	if p.Wallet == nil {
		return fmt.Errorf("missing wallet service")
	}
	if p.TradeWallet == nil {
		return fmt.Errorf("missing trade wallet")
	}
	if p.Chain == nil {
		return fmt.Errorf("missing chain service")
	}
	if p.KeyRing == nil {
		return fmt.Errorf("missing key ring")
	}
	if p.Delivery == nil {
		return fmt.Errorf("missing delivery service")
	}
	if p.Disputes == nil {
		return fmt.Errorf("missing dispute agent selector")
	}
	if p.Offers == nil {
		return fmt.Errorf("missing offer service")
	}
	if p.Crawler == nil {
		return fmt.Errorf("missing crawler")
	}
	return nil
}
