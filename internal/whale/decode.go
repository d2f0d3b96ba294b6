// decode.go turns webhook transaction notifications into WhaleIntent events.
//
// The mempool provider POSTs matched native transactions and ERC-20 receipt
// logs for the watched addresses. Native values arrive as hex wei; token
// transfers are recognized by the canonical Transfer event signature and
// valued through a small table of known dollar-pegged tokens. Unknown
// tokens decode but value at 0 (threat LOW).
package whale

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// stablecoin value table: mainnet dollar-pegged tokens and their decimals.
var stableTokens = map[common.Address]int{
	common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"): 6,  // USDT
	common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"): 6,  // USDC
	common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"): 18, // DAI
}

// NativeTx is one matched pending native transfer.
type NativeTx struct {
	Hash       string `json:"hash"`
	From       string `json:"from"`
	To         string `json:"to"`
	Value      string `json:"value"` // hex wei
	ObservedAt int64  `json:"observedAt,omitempty"` // epoch ms
}

// ReceiptLog is one event log inside a matched receipt.
type ReceiptLog struct {
	Address string   `json:"address"` // token contract
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt is one matched transaction receipt.
type Receipt struct {
	TransactionHash string       `json:"transactionHash"`
	Logs            []ReceiptLog `json:"logs"`
	ObservedAt      int64        `json:"observedAt,omitempty"` // epoch ms
}

// WebhookPayload is the provider's POST body.
type WebhookPayload struct {
	MatchingTransactions []NativeTx `json:"matchingTransactions,omitempty"`
	MatchingReceipts     []Receipt  `json:"matchingReceipts,omitempty"`
}

// Decoder converts webhook payloads into whale intents.
type Decoder struct {
	watchlist   *Watchlist
	price       PriceSource
	criticalUSD float64
	alertUSD    float64
}

// NewDecoder builds a decoder. price supplies the native-asset USD price
// for valuing native transfers; nil values them at 0.
func NewDecoder(cfg config.WhaleConfig, watchlist *Watchlist, price PriceSource) *Decoder {
	return &Decoder{
		watchlist:   watchlist,
		price:       price,
		criticalUSD: cfg.CriticalUSD,
		alertUSD:    cfg.AlertUSD,
	}
}

// Decode emits one intent per native tx and one per recognized Transfer
// log. The returned counts mirror the webhook response body.
func (d *Decoder) Decode(payload WebhookPayload, now time.Time) (intents []types.WhaleIntent, txCount, receiptCount int) {
	for _, tx := range payload.MatchingTransactions {
		intents = append(intents, d.decodeNative(tx, now))
		txCount++
	}
	for _, rc := range payload.MatchingReceipts {
		receiptCount++
		for _, lg := range rc.Logs {
			intent, ok := d.decodeTransferLog(rc, lg, now)
			if !ok {
				continue
			}
			intents = append(intents, intent)
		}
	}
	return intents, txCount, receiptCount
}

func (d *Decoder) decodeNative(tx NativeTx, now time.Time) types.WhaleIntent {
	wei := parseHexBig(tx.Value)
	eth := WeiToEth(wei)
	usd := 0.0
	if d.price != nil {
		usd = eth * d.price()
	}

	return types.WhaleIntent{
		ID:                uuid.NewString(),
		Kind:              "native",
		WhaleAddress:      tx.From,
		EstimatedValueUSD: usd,
		TargetExchange:    d.watchlist.ExchangeTag(tx.To),
		ThreatLevel:       d.threatLevel(usd),
		DetectionLatency:  latencyMs(tx.ObservedAt, now),
		Timestamp:         now,
	}
}

// decodeTransferLog extracts from/to/value from a canonical ERC-20 Transfer
// event: from = topics[1] tail, to = topics[2] tail, value = data.
func (d *Decoder) decodeTransferLog(rc Receipt, lg ReceiptLog, now time.Time) (types.WhaleIntent, bool) {
	if len(lg.Topics) < 3 || common.HexToHash(lg.Topics[0]) != TransferTopic {
		return types.WhaleIntent{}, false
	}

	from := common.BytesToAddress(common.HexToHash(lg.Topics[1]).Bytes()[12:])
	to := common.BytesToAddress(common.HexToHash(lg.Topics[2]).Bytes()[12:])
	value := parseHexBig(lg.Data)

	usd := 0.0
	if decimals, ok := stableTokens[common.HexToAddress(lg.Address)]; ok {
		usd = tokenToFloat(value, decimals) // dollar-pegged: 1 token ≈ $1
	}

	return types.WhaleIntent{
		ID:                uuid.NewString(),
		Kind:              "erc20",
		WhaleAddress:      from.Hex(),
		EstimatedValueUSD: usd,
		TargetExchange:    d.watchlist.ExchangeTag(to.Hex()),
		ThreatLevel:       d.threatLevel(usd),
		DetectionLatency:  latencyMs(rc.ObservedAt, now),
		Timestamp:         now,
	}, true
}

// ShouldAlert reports whether the intent crosses the side-channel alert bar.
func (d *Decoder) ShouldAlert(intent types.WhaleIntent) bool {
	return intent.EstimatedValueUSD >= d.alertUSD
}

func (d *Decoder) threatLevel(usd float64) types.ThreatLevel {
	switch {
	case usd >= d.criticalUSD:
		return types.ThreatCritical
	case usd >= d.alertUSD:
		return types.ThreatHigh
	case usd >= d.alertUSD/10:
		return types.ThreatMedium
	default:
		return types.ThreatLow
	}
}

func latencyMs(observedAtMs int64, now time.Time) int64 {
	if observedAtMs <= 0 {
		return 0
	}
	lat := now.UnixMilli() - observedAtMs
	if lat < 0 {
		lat = 0
	}
	return lat
}

// parseHexBig parses a 0x-prefixed (or bare) hex quantity; nil-safe zero on
// malformed input.
func parseHexBig(s string) *big.Int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func tokenToFloat(value *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(value)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}
