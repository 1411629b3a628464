package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abesuite/abec/abejson"
	"github.com/abesuite/go-socks/socks"
	"github.com/electra-project/ecawallet/wtxmgr"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// UnitsPerECA is the number of base units in one ECA.
	UnitsPerECA = 1e6

	// maxAddressesPerRequest bounds the number of addresses sent in a
	// single address index request.
	maxAddressesPerRequest = 20

	// maxConcurrentRequests bounds the number of in-flight requests of a
	// single batched lookup.
	maxConcurrentRequests = 8

	// defaultDialTimeout is used when RPCConfig.DialTimeout is zero.
	defaultDialTimeout = 30 * time.Second
)

// RPCConfig describes the connection to an electrad chain server.
type RPCConfig struct {
	// Host is the host:port of the chain server.
	Host string

	// Endpoint is the websocket path, "ws" when empty.
	Endpoint string

	User string
	Pass string

	// DisableTLS selects ws:// instead of wss://.
	DisableTLS bool

	// Proxy is the optional host:port of a SOCKS5 proxy to connect
	// through.
	Proxy     string
	ProxyUser string
	ProxyPass string

	DialTimeout time.Duration
}

// rpcRequest is a JSON-RPC request as sent on the wire.
type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// rpcResponse is a JSON-RPC response as received from the wire.
type rpcResponse struct {
	ID     uint64            `json:"id"`
	Result json.RawMessage   `json:"result"`
	Error  *abejson.RPCError `json:"error"`
}

// addressesParam is the parameter object of the address index methods.
type addressesParam struct {
	Addresses []string `json:"addresses"`
}

// addressBalanceResult is the result of getaddressbalance.
type addressBalanceResult struct {
	Balance  int64 `json:"balance"`
	Received int64 `json:"received"`
}

// addressDeltaResult is one element of the result of getaddressdeltas.
type addressDeltaResult struct {
	TxID     string `json:"txid"`
	Address  string `json:"address"`
	Satoshis int64  `json:"satoshis"`
	Height   int64  `json:"height"`
}

// addressMempoolResult is one element of the result of getaddressmempool.
type addressMempoolResult struct {
	TxID      string `json:"txid"`
	Address   string `json:"address"`
	Satoshis  int64  `json:"satoshis"`
	Timestamp int64  `json:"timestamp"`
}

// RPCClient is a websocket JSON-RPC client of an electrad chain server with
// the address index enabled.  Requests are multiplexed over a single
// connection and may be issued concurrently.
type RPCClient struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.
	nextID  uint64

	cfg *RPCConfig

	conn     *websocket.Conn
	writeMtx sync.Mutex

	pendingMtx sync.Mutex
	pending    map[uint64]chan *rpcResponse

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile time check to ensure RPCClient implements Interface.
var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client connection to the server described by the
// config.  The connection is not established until Start is called.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("chain server host is required")
	}

	return &RPCClient{
		cfg:     cfg,
		pending: make(map[uint64]chan *rpcResponse),
		quit:    make(chan struct{}),
	}, nil
}

// BackEnd returns the name of the driver.
func (c *RPCClient) BackEnd() string {
	return "electrad"
}

// url returns the websocket URL of the chain server.
func (c *RPCClient) url() string {
	scheme := "wss"
	if c.cfg.DisableTLS {
		scheme = "ws"
	}
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "ws"
	}
	u := url.URL{Scheme: scheme, Host: c.cfg.Host, Path: "/" + endpoint}
	return u.String()
}

// Start establishes the websocket connection and starts the reader.
func (c *RPCClient) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrClientAlreadyStarted
	}

	timeout := c.cfg.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if c.cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     c.cfg.Proxy,
			Username: c.cfg.ProxyUser,
			Password: c.cfg.ProxyPass,
		}
		dialer.NetDial = proxy.Dial
	}

	header := make(http.Header)
	login := c.cfg.User + ":" + c.cfg.Pass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	header.Set("Authorization", auth)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, c.url(), header)
	if err != nil {
		atomic.StoreInt32(&c.started, 0)
		if resp != nil {
			return fmt.Errorf("unable to connect to %s: %v (%s)",
				c.cfg.Host, err, resp.Status)
		}
		return fmt.Errorf("unable to connect to %s: %v", c.cfg.Host,
			err)
	}
	c.conn = conn

	log.Infof("Established connection to chain server %s", c.cfg.Host)

	c.wg.Add(1)
	go c.readHandler()

	return nil
}

// Stop closes the connection and fails every pending request.
func (c *RPCClient) Stop() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}

	close(c.quit)
	if c.conn != nil {
		c.conn.Close()
	}
}

// WaitForShutdown blocks until the reader has exited after Stop.
func (c *RPCClient) WaitForShutdown() {
	c.wg.Wait()
}

// readHandler delivers responses to the pending requests until the
// connection fails.
//
// NOTE: This MUST be run as a goroutine.
func (c *RPCClient) readHandler() {
	defer c.wg.Done()

	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			select {
			case <-c.quit:
			default:
				log.Errorf("Chain server connection lost: %v",
					err)
				c.Stop()
			}
			c.failPending()
			return
		}

		c.pendingMtx.Lock()
		respChan, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMtx.Unlock()

		if !ok {
			log.Warnf("Received response for unknown request id %d",
				resp.ID)
			continue
		}
		respChan <- &resp
	}
}

// failPending drops every pending request.  Waiters observe the closed quit
// channel.
func (c *RPCClient) failPending() {
	c.pendingMtx.Lock()
	c.pending = make(map[uint64]chan *rpcResponse)
	c.pendingMtx.Unlock()
}

// RawRequest sends a request and waits for its result.  Errors reported by
// the server are returned as abejson.RPCError or one of the typed errors of
// this package.
func (c *RPCClient) RawRequest(ctx context.Context, method string,
	params []interface{}) (json.RawMessage, error) {

	if atomic.LoadInt32(&c.started) == 0 {
		return nil, ErrClientNotConnected
	}
	select {
	case <-c.quit:
		return nil, ErrClientShutdown
	default:
	}

	if params == nil {
		params = []interface{}{}
	}
	id := atomic.AddUint64(&c.nextID, 1)
	req := &rpcRequest{
		Jsonrpc: "1.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	respChan := make(chan *rpcResponse, 1)
	c.pendingMtx.Lock()
	c.pending[id] = respChan
	c.pendingMtx.Unlock()

	c.writeMtx.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMtx.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, convertRPCError(resp.Error)
		}
		return resp.Result, nil

	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()

	case <-c.quit:
		return nil, ErrClientShutdown
	}
}

func (c *RPCClient) removePending(id uint64) {
	c.pendingMtx.Lock()
	delete(c.pending, id)
	c.pendingMtx.Unlock()
}

// request performs a request and unmarshals its result into result.
func (c *RPCClient) request(ctx context.Context, method string,
	result interface{}, params ...interface{}) error {

	raw, err := c.RawRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("malformed %s result: %v", method, err)
	}
	return nil
}

// batches splits hashes into address index requests.
func batches(hashes []string) [][]string {
	var batches [][]string
	for len(hashes) > 0 {
		n := len(hashes)
		if n > maxAddressesPerRequest {
			n = maxAddressesPerRequest
		}
		batches = append(batches, hashes[:n])
		hashes = hashes[n:]
	}
	return batches
}

// GetBalance sums the balance of the addresses with batched
// getaddressbalance requests issued concurrently.  The first failing batch
// fails the whole lookup.
//
// This is part of the BalanceSource interface.
func (c *RPCClient) GetBalance(ctx context.Context, hashes []string) (float64, error) {
	batches := batches(hashes)
	balances := make([]int64, len(batches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRequests)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			var result addressBalanceResult
			err := c.request(
				ctx, "getaddressbalance", &result,
				addressesParam{Addresses: batch},
			)
			if err != nil {
				return err
			}
			balances[i] = result.Balance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, balance := range balances {
		total += balance
	}

	log.Debugf("Balance of %d address(es): %d units", len(hashes), total)

	return float64(total) / UnitsPerECA, nil
}

// GetTransactions returns the mined and mempool transactions of the
// addresses.  Deltas of one transaction and address are summed into one
// record.
//
// This is part of the TransactionSource interface.
func (c *RPCClient) GetTransactions(ctx context.Context,
	hashes []string) ([]wtxmgr.TxRecord, error) {

	if len(hashes) == 0 {
		return nil, nil
	}

	var tip int64
	if err := c.request(ctx, "getblockcount", &tip); err != nil {
		return nil, err
	}

	batches := batches(hashes)
	deltas := make([][]addressDeltaResult, len(batches))
	mempool := make([][]addressMempoolResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRequests)
	for i, batch := range batches {
		i, batch := i, batch
		param := addressesParam{Addresses: batch}
		g.Go(func() error {
			return c.request(
				gctx, "getaddressdeltas", &deltas[i], param,
			)
		})
		g.Go(func() error {
			return c.request(
				gctx, "getaddressmempool", &mempool[i], param,
			)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type key struct{ txID, address string }
	var (
		recs  []wtxmgr.TxRecord
		index = make(map[key]int)
	)
	add := func(rec wtxmgr.TxRecord, units int64) {
		k := key{rec.TxID, rec.Address}
		if i, ok := index[k]; ok {
			recs[i].Amount += float64(units) / UnitsPerECA
			return
		}
		rec.Amount = float64(units) / UnitsPerECA
		index[k] = len(recs)
		recs = append(recs, rec)
	}

	for _, batch := range deltas {
		for _, delta := range batch {
			add(wtxmgr.TxRecord{
				TxID:          delta.TxID,
				Address:       delta.Address,
				Confirmations: tip - delta.Height + 1,
			}, delta.Satoshis)
		}
	}
	for _, batch := range mempool {
		for _, entry := range batch {
			add(wtxmgr.TxRecord{
				TxID:     entry.TxID,
				Address:  entry.Address,
				Received: time.Unix(entry.Timestamp, 0),
			}, entry.Satoshis)
		}
	}

	return recs, nil
}
