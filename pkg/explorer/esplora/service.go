package esplora

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tdex-network/tdex-p2ptrade/pkg/explorer"
)

type esplora struct {
	apiURL string
	client *Client
}

// NewService returns an explorer.Service for the esplora REST API at apiURL.
// The explorer must be reachable.
func NewService(apiURL string, requestsPerSecond int, timeout time.Duration) (explorer.Service, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("missing explorer url")
	}
	service := &esplora{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: NewClient(requestsPerSecond, timeout),
	}

	if _, err := service.GetBlockHeight(); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return service, nil
}

func (e *esplora) GetUnspents(address string) ([]explorer.Utxo, error) {
	url := fmt.Sprintf("%s/address/%s/utxo", e.apiURL, address)
	resp, err := e.get(url)
	if err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %w", err)
	}

	var outs []utxo
	if err := json.Unmarshal([]byte(resp), &outs); err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %w", err)
	}

	unspents := make([]explorer.Utxo, 0, len(outs))
	for _, u := range outs {
		unspents = append(unspents, u.toUtxo())
	}
	return unspents, nil
}

func (e *esplora) GetTransactionHex(txid string) (string, error) {
	url := fmt.Sprintf("%s/tx/%s/hex", e.apiURL, txid)
	return e.get(url)
}

func (e *esplora) GetTransactionStatus(txid string) (*explorer.TransactionStatus, error) {
	url := fmt.Sprintf("%s/tx/%s/status", e.apiURL, txid)
	resp, err := e.get(url)
	if err != nil {
		return nil, err
	}

	var status txStatus
	if err := json.Unmarshal([]byte(resp), &status); err != nil {
		return nil, err
	}
	return status.toStatus(), nil
}

func (e *esplora) BroadcastTransaction(txhex string) (string, error) {
	url := fmt.Sprintf("%s/tx", e.apiURL)
	headers := map[string]string{
		"Content-Type": "text/plain",
	}

	status, resp, err := e.client.NewHTTPRequest("POST", url, txhex, headers)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to broadcast tx: %s", resp)
	}
	return resp, nil
}

func (e *esplora) GetBlockHeight() (int, error) {
	url := fmt.Sprintf("%s/blocks/tip/height", e.apiURL)
	resp, err := e.get(url)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(resp)
}

func (e *esplora) get(url string) (string, error) {
	status, resp, err := e.client.NewHTTPRequest("GET", url, "", nil)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		return "", explorer.ErrTxNotFound
	default:
		return "", fmt.Errorf("explorer returned %d: %s", status, resp)
	}
}
