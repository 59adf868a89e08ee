package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
}

func newOperatorServer(
	t *testing.T, status int, reply string,
) (*httptest.Server, *[]recordedRequest) {
	requests := &[]recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
		}
		if r.ContentLength > 0 {
			req.body = map[string]interface{}{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req.body))
		}
		*requests = append(*requests, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantMethod string
		wantPath   string
		wantQuery  string
		wantBody   map[string]interface{}
	}{
		{
			name:       "trades",
			args:       []string{"trades", "--list", "closed"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/trades",
			wantQuery:  "list=closed",
		},
		{
			name:       "trade",
			args:       []string{"trade", "tid"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/trades/tid",
		},
		{
			name:       "take",
			args:       []string{"take", "--amount", "5000", "--account-id", "acc", "--holder", "bob", "oid"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/trades",
			wantBody: map[string]interface{}{
				"offerId": "oid",
				"amount":  float64(5000),
				"paymentAccount": map[string]interface{}{
					"id":              "acc",
					"paymentMethodId": "",
					"holderName":      "bob",
					"details":         map[string]interface{}{},
				},
			},
		},
		{
			name:       "paymentstarted",
			args:       []string{"paymentstarted", "--txid", "ref", "tid"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/trades/tid/paymentstarted",
			wantBody: map[string]interface{}{
				"counterCurrencyTxId": "ref",
				"extraData":           "",
			},
		},
		{
			name:       "paymentreceived",
			args:       []string{"paymentreceived", "tid"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/trades/tid/paymentreceived",
		},
		{
			name:       "dispute",
			args:       []string{"dispute", "--state", "mediation_requested", "tid"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/trades/tid/dispute",
			wantBody:   map[string]interface{}{"state": "MEDIATION_REQUESTED"},
		},
		{
			name:       "cancel_offer",
			args:       []string{"offers", "cancel", "oid"},
			wantMethod: http.MethodDelete,
			wantPath:   "/api/offers/oid",
		},
		{
			name:       "funding",
			args:       []string{"book", "funding", "oid"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/book/oid/funding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newOperatorServer(t, http.StatusOK, `{"id":"tid"}`)

			app := newApp()
			out := &bytes.Buffer{}
			app.Writer = out
			args := append([]string{"p2ptrade", "--rpcserver", srv.URL}, tt.args...)
			require.NoError(t, app.Run(args))

			require.Len(t, *requests, 1)
			got := (*requests)[0]
			require.Equal(t, tt.wantMethod, got.method)
			require.Equal(t, tt.wantPath, got.path)
			require.Equal(t, tt.wantQuery, got.query)
			require.Equal(t, tt.wantBody, got.body)
			if tt.wantMethod != http.MethodDelete {
				require.Contains(t, out.String(), "tid")
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	t.Run("server_error", func(t *testing.T) {
		srv, _ := newOperatorServer(t, http.StatusConflict, `{"error":"trade is not active"}`)

		app := newApp()
		app.Writer = &bytes.Buffer{}
		err := app.Run([]string{"p2ptrade", "--rpcserver", srv.URL, "unfail", "tid"})
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "trade is not active"))
	})

	t.Run("missing_trade_id", func(t *testing.T) {
		srv, requests := newOperatorServer(t, http.StatusOK, `{}`)

		app := newApp()
		app.Writer = &bytes.Buffer{}
		err := app.Run([]string{"p2ptrade", "--rpcserver", srv.URL, "withdraw"})
		require.Error(t, err)

		var usageErr *invalidUsageError
		require.ErrorAs(t, err, &usageErr)
		require.Empty(t, *requests)
	})
}
