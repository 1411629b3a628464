package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abesuite/abec/abejson"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "rpcuser"
	testPass = "rpcpass"
)

// testHandler answers a single request.  A nil result with a nil error
// leaves the request unanswered.
type testHandler func(method string, params []json.RawMessage) (interface{}, *abejson.RPCError)

// newTestServer starts a websocket chain server answering with handler.
func newTestServer(t *testing.T, handler testHandler) *httptest.Server {
	t.Helper()

	login := base64.StdEncoding.EncodeToString(
		[]byte(testUser + ":" + testPass),
	)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Basic "+login {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			for {
				var req struct {
					Method string            `json:"method"`
					Params []json.RawMessage `json:"params"`
					ID     uint64            `json:"id"`
				}
				if err := conn.ReadJSON(&req); err != nil {
					return
				}

				result, rpcErr := handler(req.Method, req.Params)
				if result == nil && rpcErr == nil {
					continue
				}
				resp := map[string]interface{}{
					"id":     req.ID,
					"result": result,
					"error":  rpcErr,
				}
				if err := conn.WriteJSON(resp); err != nil {
					return
				}
			}
		},
	))
	t.Cleanup(srv.Close)

	return srv
}

// newTestClient returns a started client connected to srv.
func newTestClient(t *testing.T, srv *httptest.Server) *RPCClient {
	t.Helper()

	client, err := NewRPCClient(&RPCConfig{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		User:       testUser,
		Pass:       testPass,
		DisableTLS: true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Start())
	t.Cleanup(func() {
		client.Stop()
		client.WaitForShutdown()
	})

	return client
}

func decodeAddresses(t *testing.T, params []json.RawMessage) []string {
	var param addressesParam
	if len(params) != 1 || json.Unmarshal(params[0], &param) != nil {
		t.Errorf("unexpected params %v", params)
	}
	return param.Addresses
}

func testHashes(n int) []string {
	hashes := make([]string, n)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("Eaddress%d", i)
	}
	return hashes
}

func TestGetBalanceBatches(t *testing.T) {
	t.Parallel()

	requests := make(chan int, 10)
	srv := newTestServer(t, func(method string,
		params []json.RawMessage) (interface{}, *abejson.RPCError) {

		if method != "getaddressbalance" {
			t.Errorf("unexpected method %s", method)
		}
		addrs := decodeAddresses(t, params)
		requests <- len(addrs)

		return addressBalanceResult{
			Balance:  int64(len(addrs)) * 1500000,
			Received: int64(len(addrs)) * 2000000,
		}, nil
	})
	client := newTestClient(t, srv)

	balance, err := client.GetBalance(context.Background(), testHashes(45))
	require.NoError(t, err)
	require.InDelta(t, 67.5, balance, 1e-9)

	close(requests)
	var sizes []int
	for size := range requests {
		sizes = append(sizes, size)
	}
	require.ElementsMatch(t, []int{20, 20, 5}, sizes)
}

func TestGetBalanceEmpty(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(string, []json.RawMessage) (interface{}, *abejson.RPCError) {
		t.Error("unexpected request")
		return nil, nil
	})
	client := newTestClient(t, srv)

	balance, err := client.GetBalance(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestGetBalanceServerError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(string, []json.RawMessage) (interface{}, *abejson.RPCError) {
		return nil, &abejson.RPCError{
			Code:    abejson.ErrRPCInvalidAddressOrKey,
			Message: "invalid address",
		}
	})
	client := newTestClient(t, srv)

	_, err := client.GetBalance(context.Background(), testHashes(3))
	var addrErr InvalidAddressError
	require.ErrorAs(t, err, &addrErr)
	require.Contains(t, err.Error(), "invalid address")
}

func TestGetTransactions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(method string,
		params []json.RawMessage) (interface{}, *abejson.RPCError) {

		switch method {
		case "getblockcount":
			return 100, nil

		case "getaddressdeltas":
			return []addressDeltaResult{
				{TxID: "aa", Address: "Eone", Satoshis: 2000000, Height: 90},
				{TxID: "aa", Address: "Eone", Satoshis: -500000, Height: 90},
				{TxID: "bb", Address: "Etwo", Satoshis: 250000, Height: 100},
			}, nil

		case "getaddressmempool":
			return []addressMempoolResult{
				{TxID: "cc", Address: "Eone", Satoshis: 1000000, Timestamp: 1600000000},
			}, nil
		}

		return nil, &abejson.RPCError{
			Code:    abejson.ErrRPCInvalidParameter,
			Message: "unknown method",
		}
	})
	client := newTestClient(t, srv)

	recs, err := client.GetTransactions(
		context.Background(), []string{"Eone", "Etwo"},
	)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.Equal(t, "aa", recs[0].TxID)
	require.InDelta(t, 1.5, recs[0].Amount, 1e-9)
	require.EqualValues(t, 11, recs[0].Confirmations)

	require.Equal(t, "bb", recs[1].TxID)
	require.InDelta(t, 0.25, recs[1].Amount, 1e-9)
	require.EqualValues(t, 1, recs[1].Confirmations)

	require.Equal(t, "cc", recs[2].TxID)
	require.Zero(t, recs[2].Confirmations)
	require.Equal(t, int64(1600000000), recs[2].Received.Unix())
}

func TestRequestLifecycle(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(method string,
		_ []json.RawMessage) (interface{}, *abejson.RPCError) {

		if method == "getblockcount" {
			return 7, nil
		}
		return nil, nil
	})

	client, err := NewRPCClient(&RPCConfig{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		User:       testUser,
		Pass:       testPass,
		DisableTLS: true,
	})
	require.NoError(t, err)
	require.Equal(t, "electrad", client.BackEnd())

	_, err = client.RawRequest(context.Background(), "getblockcount", nil)
	require.ErrorIs(t, err, ErrClientNotConnected)

	require.NoError(t, client.Start())
	require.ErrorIs(t, client.Start(), ErrClientAlreadyStarted)

	raw, err := client.RawRequest(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	require.JSONEq(t, "7", string(raw))

	// Unanswered requests end with their context.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.RawRequest(ctx, "ping", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Pending requests fail on shutdown.
	errChan := make(chan error, 1)
	go func() {
		_, err := client.RawRequest(context.Background(), "ping", nil)
		errChan <- err
	}()
	time.Sleep(50 * time.Millisecond)
	client.Stop()
	client.WaitForShutdown()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, ErrClientShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request not failed on shutdown")
	}

	_, err = client.RawRequest(context.Background(), "getblockcount", nil)
	require.ErrorIs(t, err, ErrClientShutdown)
}

func TestStartUnauthorized(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(string, []json.RawMessage) (interface{}, *abejson.RPCError) {
		return nil, nil
	})

	client, err := NewRPCClient(&RPCConfig{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		User:       testUser,
		Pass:       "wrong",
		DisableTLS: true,
	})
	require.NoError(t, err)
	require.Contains(t, BackEnds(), client.BackEnd())
	require.Error(t, client.Start())

	_, err = NewRPCClient(&RPCConfig{})
	require.Error(t, err)
}
