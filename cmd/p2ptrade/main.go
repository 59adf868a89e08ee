package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

const (
	defaultRPCServer = "localhost:9000"
	requestTimeout   = 30 * time.Second
)

var (
	p2ptradeDataDir = btcutil.AppDataDir("p2ptrade-operator", false)
	statePath       = filepath.Join(p2ptradeDataDir, "state.json")

	rpcFlag = &cli.StringFlag{
		Name:  "rpcserver",
		Usage: "p2ptraded operator address host:port, overrides the one in the local state",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "p2ptrade"
	app.Usage = "Command line interface for p2ptraded operators"
	app.Flags = []cli.Flag{rpcFlag}
	app.Commands = append(
		app.Commands,
		&configCmd,
		&nodeCmd,
		&offersCmd,
		&bookCmd,
		&takeCmd,
		&tradesCmd,
		&tradeCmd,
		&paymentStartedCmd,
		&paymentReceivedCmd,
		&withdrawCmd,
		&failCmd,
		&unfailCmd,
		&disputeCmd,
		&lockedFundsCmd,
	)
	return app
}

func getState() (map[string]string, error) {
	data := map[string]string{}

	file, err := os.ReadFile(statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, fmt.Errorf("get config state error: %w", err)
	}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, fmt.Errorf("invalid config state: %w", err)
	}
	return data, nil
}

func setState(data map[string]string) error {
	if err := os.MkdirAll(p2ptradeDataDir, os.ModeDir|0755); err != nil {
		return err
	}

	currentData, err := getState()
	if err != nil {
		return err
	}
	for k, v := range data {
		currentData[k] = v
	}

	buf, err := json.Marshal(currentData)
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath, buf, 0644); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}
	return nil
}

// operatorClient calls the operator API of the daemon.
type operatorClient struct {
	baseURL string
	http    *http.Client
}

func getOperatorClient(ctx *cli.Context) (*operatorClient, error) {
	address := ctx.String(rpcFlag.Name)
	if address == "" {
		state, err := getState()
		if err != nil {
			return nil, err
		}
		address = state["rpcserver"]
	}
	if address == "" {
		address = defaultRPCServer
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	return &operatorClient{
		baseURL: strings.TrimSuffix(address, "/") + "/api",
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *operatorClient) get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *operatorClient) post(path string, body interface{}) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *operatorClient) delete(path string) (json.RawMessage, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *operatorClient) do(
	method, path string, body interface{},
) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to operator server: %w", err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		errResp := struct {
			Error string `json:"error"`
		}{}
		if err := json.Unmarshal(buf, &errResp); err == nil && errResp.Error != "" {
			return buf, fmt.Errorf("%s (%d)", errResp.Error, resp.StatusCode)
		}
		return buf, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return buf, nil
}

func printRespJSON(ctx *cli.Context, resp json.RawMessage) {
	if len(bytes.TrimSpace(resp)) == 0 {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp, "", "\t"); err != nil {
		fmt.Fprintln(ctx.App.Writer, "unable to decode response: ", err)
		return
	}
	fmt.Fprintln(ctx.App.Writer, out.String())
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[p2ptrade] %v\n", err)
	}
	os.Exit(1)
}
