package aptos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTransactions = `[
  {
    "type": "user_transaction",
    "version": "1001",
    "hash": "0xaa",
    "sender": "0x5",
    "success": true,
    "vm_status": "Executed successfully",
    "timestamp": "1700000000123456",
    "payload": {
      "type": "entry_function_payload",
      "function": "0xcafe::bonding_curve_pool::buy_tokens",
      "type_arguments": [],
      "arguments": ["0xaaa", "1000000"]
    },
    "events": [
      {"sequence_number": "0", "type": "0xcafe::bonding_curve_pool::TokenPurchased", "data": {"apt_in": "1000000"}}
    ]
  },
  {
    "type": "block_metadata_transaction",
    "version": "1002",
    "hash": "0xbb",
    "success": true,
    "timestamp": "1700000000223456",
    "events": []
  }
]`

func TestClientTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "1001", r.URL.Query().Get("start"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleTransactions))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	txs, err := client.Transactions(context.Background(), 1001, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	tx := txs[0]
	assert.Equal(t, U64(1001), tx.Version)
	assert.Equal(t, "0xaa", tx.Hash)
	assert.True(t, tx.Success)
	assert.Equal(t, "0xcafe::bonding_curve_pool::buy_tokens", tx.EntryFunction())
	assert.Equal(t, int64(1700000000123456), tx.Time().UnixMicro())
	require.Len(t, tx.Events, 1)
	assert.Equal(t, "0xcafe::bonding_curve_pool::TokenPurchased", tx.Events[0].Type)

	assert.Equal(t, "", txs[1].EntryFunction())
}

func TestClientLedgerVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1", r.URL.Path)
		_, _ = w.Write([]byte(`{"chain_id": 1, "epoch": "10", "ledger_version": "123456", "block_height": "99", "ledger_timestamp": "1", "node_role": "full_node"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL + "/v1/")
	require.NoError(t, err)

	version, err := client.LedgerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), version)
}

func TestClientTransactionByHashNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/by_hash/0xdead", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Transaction not found", "error_code": "transaction_not_found"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.TransactionByHash(context.Background(), "0xdead")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClientRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message": "rate limited", "error_code": "rate_limited"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.Transactions(context.Background(), 0, 10)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate_limited", apiErr.ErrorCode)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)

	_, err = NewClient("ftp://node")
	assert.Error(t, err)
}
