package protocol

import (
	"bytes"
	"fmt"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

const compressedPubKeyLen = 33

// buildContract returns the contract of the trade as seen by the local
// party. Both parties must build the very same contract.
func buildContract(t *domain.Trade) *domain.Contract {
	pm := &t.ProcessModel
	peer := &pm.TradePeer

	var ownAccountHash []byte
	if pm.PaymentAccountPayload != nil {
		ownAccountHash = pm.PaymentAccountPayload.Hash()
	}

	c := &domain.Contract{
		OfferId:                    t.Offer.Id,
		TradeAmount:                t.Amount,
		TradePrice:                 t.Price.String(),
		TxFee:                      t.TxFee,
		BuyerSecurityDeposit:       t.Offer.BuyerSecurityDeposit,
		SellerSecurityDeposit:      t.Offer.SellerSecurityDeposit,
		CurrencyCode:               t.Offer.CurrencyCode,
		PaymentMethodId:            t.Offer.PaymentMethodId,
		TakerFeeTxId:               t.TakerFeeTxId,
		IsBuyerMakerAndSellerTaker: t.Offer.Direction == domain.OfferDirectionBuy,
		MediatorNodeAddress:        t.MediatorNodeAddress,
		RefundAgentNodeAddress:     t.RefundAgentNodeAddress,
		LockTime:                   t.LockTime,
	}

	if t.IsBuyer() {
		c.BuyerNodeAddress, c.SellerNodeAddress = pm.MyNodeAddress, t.PeerNodeAddress
	} else {
		c.BuyerNodeAddress, c.SellerNodeAddress = t.PeerNodeAddress, pm.MyNodeAddress
	}

	if t.IsMaker() {
		c.MakerAccountId, c.TakerAccountId = pm.AccountId, peer.AccountId
		c.MakerPaymentAccountPayloadHash = ownAccountHash
		c.TakerPaymentAccountPayloadHash = peer.PaymentAccountPayloadHash
		c.MakerPubKeyRing, c.TakerPubKeyRing = pm.PubKeyRing, peer.PubKeyRing
		c.MakerPayoutAddress, c.TakerPayoutAddress = pm.PayoutAddress, peer.PayoutAddress
		c.MakerMultiSigPubKey, c.TakerMultiSigPubKey = pm.MyMultiSigPubKey, peer.MultiSigPubKey
		return c
	}

	c.MakerAccountId, c.TakerAccountId = peer.AccountId, pm.AccountId
	c.MakerPaymentAccountPayloadHash = peer.PaymentAccountPayloadHash
	c.TakerPaymentAccountPayloadHash = ownAccountHash
	c.MakerPubKeyRing, c.TakerPubKeyRing = peer.PubKeyRing, pm.PubKeyRing
	c.MakerPayoutAddress, c.TakerPayoutAddress = peer.PayoutAddress, pm.PayoutAddress
	c.MakerMultiSigPubKey, c.TakerMultiSigPubKey = peer.MultiSigPubKey, pm.MyMultiSigPubKey
	return c
}

// buyerAndSeller returns the local and the peer value ordered as buyer first.
func buyerAndSeller[T any](t *domain.Trade, own, peer T) (T, T) {
	if t.IsBuyer() {
		return own, peer
	}
	return peer, own
}

func multisigInput(t *domain.Trade) ports.MultisigInput {
	buyerKey, sellerKey := buyerAndSeller(
		t, t.ProcessModel.MyMultiSigPubKey, t.ProcessModel.TradePeer.MultiSigPubKey,
	)
	return ports.MultisigInput{
		BuyerPubKey:  buyerKey,
		SellerPubKey: sellerKey,
		Value:        t.MultisigOutputValue(),
	}
}

func depositTxArgs(t *domain.Trade) ports.DepositTxArgs {
	pm := &t.ProcessModel
	peer := &pm.TradePeer

	buyerInputs, sellerInputs := buyerAndSeller(
		t, pm.RawTransactionInputs, peer.RawTransactionInputs,
	)
	buyerChange, sellerChange := buyerAndSeller(
		t,
		ports.Output{Address: pm.ChangeOutputAddress, Value: pm.ChangeOutputValue},
		ports.Output{Address: peer.ChangeOutputAddress, Value: peer.ChangeOutputValue},
	)
	in := multisigInput(t)

	return ports.DepositTxArgs{
		BuyerInputs:          buyerInputs,
		SellerInputs:         sellerInputs,
		BuyerChange:          buyerChange,
		SellerChange:         sellerChange,
		BuyerMultiSigPubKey:  in.BuyerPubKey,
		SellerMultiSigPubKey: in.SellerPubKey,
		MultisigValue:        in.Value,
		ContractHash:         t.ContractHash,
	}
}

func delayedPayoutTxArgs(t *domain.Trade) ports.DelayedPayoutTxArgs {
	return ports.DelayedPayoutTxArgs{
		DepositTx:     t.ProcessModel.PreparedDepositTx,
		LockTime:      t.LockTime,
		RefundAddress: t.ProcessModel.RefundAgent.PayoutAddress,
		TxFee:         t.TxFee,
	}
}

func payoutTxArgs(t *domain.Trade) ports.PayoutTxArgs {
	return ports.PayoutTxArgs{
		DepositTx:     t.DepositTx,
		BuyerAddress:  t.Contract.BuyerPayoutAddress(),
		BuyerAmount:   t.BuyerPayoutAmount(),
		SellerAddress: t.Contract.SellerPayoutAddress(),
		SellerAmount:  t.SellerPayoutAmount(),
	}
}

// peerDepositContribution returns how much the counterparty must fund the
// deposit tx with.
func peerDepositContribution(t *domain.Trade) uint64 {
	amount := t.Offer.SellerSecurityDeposit + t.Amount
	if t.IsSeller() {
		amount = t.Offer.BuyerSecurityDeposit
	}
	if t.IsMaker() {
		amount += 2 * t.TxFee
	}
	return amount
}

// peerSwapContribution ...
func peerSwapContribution(t *domain.Trade) uint64 {
	amount := t.Amount
	if t.IsSeller() {
		amount = t.CounterAmount()
	}
	if t.IsMaker() {
		amount += t.TxFee
	}
	return amount
}

// verifyPreparedDepositTx makes sure the deposit tx built by the peer locks
// the agreed value into the multisig of both keys, commits to the contract
// and spends the local inputs.
func verifyPreparedDepositTx(tc *TaskContext, raw []byte) (*txutil.Tx, error) {
	t := tc.Trade
	tx, err := txutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	if len(tx.Outputs) < 2 {
		return nil, fmt.Errorf("%w: deposit tx has too few outputs", ErrInvalidTx)
	}

	in := multisigInput(t)
	_, script, err := txutil.MultisigScript(
		in.BuyerPubKey, in.SellerPubKey, tc.Provider.Config.Network,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	multisig := tx.Outputs[0]
	if multisig.Value != in.Value || !bytes.Equal(multisig.PkScript, script) {
		return nil, fmt.Errorf("%w: wrong multisig output", ErrInvalidTx)
	}

	hash, ok := txutil.NullData(tx.Outputs[1].PkScript)
	if !ok || !bytes.Equal(hash, t.ContractHash) {
		return nil, fmt.Errorf("%w: deposit tx doesn't commit to contract", ErrInvalidTx)
	}

	var inputsValue uint64
	inputs := append(
		append([]domain.RawTransactionInput{}, tc.Model().RawTransactionInputs...),
		tc.Peer().RawTransactionInputs...,
	)
	for _, i := range inputs {
		if !tx.HasInput(i.ParentTxId, i.Index) {
			return nil, fmt.Errorf(
				"%w: deposit tx doesn't spend %s:%d", ErrInvalidTx, i.ParentTxId, i.Index,
			)
		}
		inputsValue += i.Value
	}
	if len(tx.Inputs) != len(inputs) {
		return nil, fmt.Errorf("%w: deposit tx spends unknown inputs", ErrInvalidTx)
	}

	outputsValue := tx.SumOutputs()
	if inputsValue < outputsValue || inputsValue-outputsValue < t.TxFee {
		return nil, fmt.Errorf("%w: deposit tx pays too low fee", ErrInvalidTx)
	}
	return tx, nil
}

func verifyOwnInputs(tx *txutil.Tx, inputs []domain.RawTransactionInput) error {
	for _, i := range inputs {
		if !tx.HasInput(i.ParentTxId, i.Index) {
			return fmt.Errorf(
				"%w: tx doesn't spend %s:%d", ErrInvalidTx, i.ParentTxId, i.Index,
			)
		}
	}
	return nil
}

func sumInputs(inputs ...[]domain.RawTransactionInput) uint64 {
	var sum uint64
	for _, list := range inputs {
		for _, i := range list {
			sum += i.Value
		}
	}
	return sum
}

// verifyPaymentAccount makes sure the payment account sent by the peer is
// the one it committed to.
func verifyPaymentAccount(
	payload domain.PaymentAccountPayload, expectedHash []byte,
) error {
	if !bytes.Equal(payload.Hash(), expectedHash) {
		return fmt.Errorf("%w: payment account hash mismatch", ErrInvalidContract)
	}
	return nil
}

func txIdOf(raw []byte) (string, error) {
	return txutil.TxId(raw)
}

// sameTx tells whether two serializations are the same tx. Segwit txids
// don't commit to witnesses, hence a tx keeps its id once signed.
func sameTx(a, b []byte) (bool, error) {
	idA, err := txIdOf(a)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	idB, err := txIdOf(b)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	return idA == idB, nil
}

func validatePubKey(key []byte) error {
	if len(key) != compressedPubKeyLen {
		return fmt.Errorf("%w: invalid multisig pubkey", ErrInvalidMessage)
	}
	return nil
}

func validateAddress(tc *TaskContext, address string) error {
	if _, err := txutil.AddressScript(address, tc.Provider.Config.Network); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return nil
}

func messageAs[T domain.TradeMessage](tc *TaskContext) (T, error) {
	msg, ok := tc.Message.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unexpected %T", ErrInvalidMessage, tc.Message)
	}
	return msg, nil
}
