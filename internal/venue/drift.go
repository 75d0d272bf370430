package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spreadbot-go/internal/market"
)

// Client talks to a Drift-style trading gateway: market data and order
// construction over HTTP, order submission as a locally signed Solana
// transaction, and an account event stream over websocket.
type Client struct {
	Base       string
	WSBase     string
	RPC        *rpc.Client
	Owner      solana.PrivateKey
	Commit     rpc.CommitmentType
	Http       *http.Client
	SubAccount int

	log    zerolog.Logger
	stream *accountStream
}

// NewClient wires a gateway client. rpcURL is the Solana RPC used to submit
// signed order transactions.
func NewClient(base, wsBase, rpcURL string, owner solana.PrivateKey, commit string, subAccount int, log zerolog.Logger) *Client {
	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &Client{
		Base:       base,
		WSBase:     wsBase,
		RPC:        rpc.New(rpcURL),
		Owner:      owner,
		Commit:     c,
		Http:       &http.Client{Timeout: 10 * time.Second},
		SubAccount: subAccount,
		log:        log,
	}
}

// Subscribe starts the account event stream. The stream is observability
// only; position truth always comes from Positions.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.WSBase == "" {
		c.log.Info().Msg("no websocket endpoint configured, skipping account stream")
		return nil
	}
	c.stream = newAccountStream(c.WSBase, c.SubAccount, c.log)
	c.stream.start(ctx)
	return nil
}

// Unsubscribe stops the account stream. Safe to call repeatedly.
func (c *Client) Unsubscribe() error {
	if c.stream != nil {
		c.stream.stop()
		c.stream = nil
	}
	return nil
}

type marketsResponse struct {
	Markets []struct {
		Symbol       string      `json:"symbol"`
		MarketIndex  int         `json:"marketIndex"`
		TickSize     json.Number `json:"tickSize"`
		StepSize     json.Number `json:"stepSize"`
		MinOrderSize json.Number `json:"minOrderSize"`
	} `json:"markets"`
}

// Instruments fetches venue market metadata.
func (c *Client) Instruments(ctx context.Context) ([]market.Instrument, error) {
	var payload marketsResponse
	if err := c.getJSON(ctx, "/v1/markets", nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	out := make([]market.Instrument, 0, len(payload.Markets))
	for _, m := range payload.Markets {
		out = append(out, market.Instrument{
			Symbol:      m.Symbol,
			MarketIndex: m.MarketIndex,
			TickSize:    numberOrZero(m.TickSize),
			StepSize:    numberOrZero(m.StepSize),
			MinOrderSz:  numberOrZero(m.MinOrderSize),
		})
	}
	return out, nil
}

type positionsResponse struct {
	Positions []struct {
		Market          string      `json:"market"`
		BaseAssetAmount json.Number `json:"baseAssetAmount"`
	} `json:"positions"`
}

// Positions returns the signed base quantity per instrument for the
// configured sub-account.
func (c *Client) Positions(ctx context.Context) ([]PositionEntry, error) {
	q := url.Values{}
	q.Set("subAccount", fmt.Sprintf("%d", c.SubAccount))
	var payload positionsResponse
	if err := c.getJSON(ctx, "/v1/positions", q, &payload); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	out := make([]PositionEntry, 0, len(payload.Positions))
	for _, p := range payload.Positions {
		out = append(out, PositionEntry{Instrument: p.Market, Qty: numberOrZero(p.BaseAssetAmount)})
	}
	return out, nil
}

type orderbookResponse struct {
	Levels []struct {
		Price json.Number `json:"price"`
		Size  json.Number `json:"size"`
	} `json:"levels"`
	OraclePrice json.Number `json:"oraclePrice"`
}

// OrderBook returns the side of the book a prospective order would consume,
// levels in price priority order, plus the oracle price.
func (c *Client) OrderBook(ctx context.Context, instrument string, side Side) (Book, error) {
	q := url.Values{}
	q.Set("market", instrument)
	if side == SideBuy {
		q.Set("side", "asks")
	} else {
		q.Set("side", "bids")
	}
	var payload orderbookResponse
	if err := c.getJSON(ctx, "/v1/orderbook", q, &payload); err != nil {
		return Book{}, fmt.Errorf("fetch orderbook %s: %w", instrument, err)
	}
	book := Book{
		Levels:      make([]BookLevel, 0, len(payload.Levels)),
		OraclePrice: numberOrZero(payload.OraclePrice),
	}
	for _, lvl := range payload.Levels {
		book.Levels = append(book.Levels, BookLevel{Price: numberOrZero(lvl.Price), Size: numberOrZero(lvl.Size)})
	}
	return book, nil
}

type orderRequest struct {
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price,omitempty"`
	OrderType     string  `json:"orderType"`
	ReduceOnly    bool    `json:"reduceOnly"`
	SubAccount    int     `json:"subAccount"`
	ClientOrderID string  `json:"clientOrderId"`
}

type orderResponse struct {
	Transaction       string      `json:"transaction"` // base64, unsigned
	ExpectedFillPrice json.Number `json:"expectedFillPrice"`
}

// PlaceOrder asks the gateway for a ready-to-sign order transaction, signs it
// with the local keypair, then submits via RPC. The returned confirmation
// carries the transaction signature as order id.
func (c *Client) PlaceOrder(ctx context.Context, order Order) (*Confirmation, error) {
	req := orderRequest{
		Market:        order.Instrument,
		Side:          string(order.Side),
		Size:          order.Size,
		Price:         order.Price,
		OrderType:     "market",
		ReduceOnly:    order.ReduceOnly,
		SubAccount:    c.SubAccount,
		ClientOrderID: order.ClientID,
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if order.Price > 0 {
		req.OrderType = "limit"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.Http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("order http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order status %d", resp.StatusCode)
	}
	var or orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	sig, err := c.signAndSend(ctx, or.Transaction)
	if err != nil {
		return nil, err
	}
	return &Confirmation{
		OrderID:    sig.String(),
		Instrument: order.Instrument,
		Side:       order.Side,
		Size:       order.Size,
		FillPrice:  numberOrZero(or.ExpectedFillPrice),
	}, nil
}

func (c *Client) signAndSend(ctx context.Context, b64 string) (solana.Signature, error) {
	var sig solana.Signature
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return sig, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return sig, fmt.Errorf("unmarshal tx: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.Owner.PublicKey()) {
			return &c.Owner
		}
		return nil
	})
	if err != nil {
		return sig, fmt.Errorf("sign: %w", err)
	}
	sig, err = c.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.Commit,
	})
	if err != nil {
		return sig, fmt.Errorf("send tx: %w", err)
	}
	return sig, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.Base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func numberOrZero(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}
