package whale

import (
	"testing"
	"time"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

const (
	whaleAddr    = "0x00000000000000000000000000000000000a11ce"
	exchangeAddr = "0x000000000000000000000000000000000000b0b1"
	usdtContract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

func testWhaleConfig() config.WhaleConfig {
	return config.WhaleConfig{
		CriticalUSD: 10_000_000,
		AlertUSD:    1_000_000,
		Watchlist:   []string{whaleAddr},
		ExchangeTags: map[string]string{
			exchangeAddr: "binance",
		},
	}
}

func testDecoder(price float64) *Decoder {
	cfg := testWhaleConfig()
	wl := NewWatchlist(cfg.Watchlist, cfg.ExchangeTags)
	return NewDecoder(cfg, wl, func() float64 { return price })
}

// topicAddr left-pads an address into a 32-byte topic.
func topicAddr(addr string) string {
	return "0x000000000000000000000000" + addr[2:]
}

func TestDecodeNativeTransfer(t *testing.T) {
	t.Parallel()
	d := testDecoder(3500)

	now := time.Now()
	payload := WebhookPayload{
		MatchingTransactions: []NativeTx{{
			Hash:       "0xabc",
			From:       whaleAddr,
			To:         exchangeAddr,
			Value:      "0x8ac7230489e80000", // 10 ETH in wei
			ObservedAt: now.Add(-250 * time.Millisecond).UnixMilli(),
		}},
	}

	intents, txs, receipts := d.Decode(payload, now)
	if txs != 1 || receipts != 0 {
		t.Fatalf("counts = (%d,%d), want (1,0)", txs, receipts)
	}
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}

	in := intents[0]
	if in.Kind != "native" {
		t.Errorf("kind = %s", in.Kind)
	}
	if in.WhaleAddress != whaleAddr {
		t.Errorf("whaleAddress = %s", in.WhaleAddress)
	}
	if in.EstimatedValueUSD < 34999 || in.EstimatedValueUSD > 35001 {
		t.Errorf("estimated USD = %v, want ~35000", in.EstimatedValueUSD)
	}
	if in.TargetExchange != "binance" {
		t.Errorf("targetExchange = %q, want binance", in.TargetExchange)
	}
	if in.DetectionLatency < 250 {
		t.Errorf("detectionLatencyMs = %d, want >= 250", in.DetectionLatency)
	}
}

func TestDecodeERC20Transfer(t *testing.T) {
	t.Parallel()
	d := testDecoder(3500)

	now := time.Now()
	payload := WebhookPayload{
		MatchingReceipts: []Receipt{{
			TransactionHash: "0xdef",
			Logs: []ReceiptLog{{
				Address: usdtContract,
				Topics: []string{
					TransferTopic.Hex(),
					topicAddr(whaleAddr),
					topicAddr(exchangeAddr),
				},
				Data: "0x1d1a94a2000", // 2,000,000 USDT (6 decimals)
			}},
		}},
	}

	intents, txs, receipts := d.Decode(payload, now)
	if txs != 0 || receipts != 1 {
		t.Fatalf("counts = (%d,%d), want (0,1)", txs, receipts)
	}
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}

	in := intents[0]
	if in.Kind != "erc20" {
		t.Errorf("kind = %s", in.Kind)
	}
	if in.EstimatedValueUSD < 1_999_999 || in.EstimatedValueUSD > 2_000_001 {
		t.Errorf("estimated USD = %v, want ~2000000", in.EstimatedValueUSD)
	}
	if in.ThreatLevel != types.ThreatHigh {
		t.Errorf("threatLevel = %s, want HIGH", in.ThreatLevel)
	}
	if in.TargetExchange != "binance" {
		t.Errorf("targetExchange = %q", in.TargetExchange)
	}
	if !d.ShouldAlert(in) {
		t.Error("a $2M transfer must cross the alert bar")
	}
}

func TestNonTransferLogIgnored(t *testing.T) {
	t.Parallel()
	d := testDecoder(3500)

	payload := WebhookPayload{
		MatchingReceipts: []Receipt{{
			Logs: []ReceiptLog{{
				Address: usdtContract,
				Topics: []string{
					"0x000000000000000000000000000000000000000000000000000000000000dead",
					topicAddr(whaleAddr),
					topicAddr(exchangeAddr),
				},
				Data: "0x1",
			}},
		}},
	}

	intents, _, receipts := d.Decode(payload, time.Now())
	if receipts != 1 {
		t.Errorf("receipts = %d, want 1 (receipt still counted)", receipts)
	}
	if len(intents) != 0 {
		t.Errorf("intents = %d, want 0 for non-Transfer log", len(intents))
	}
}

func TestUnknownTokenValuesAtZero(t *testing.T) {
	t.Parallel()
	d := testDecoder(3500)

	payload := WebhookPayload{
		MatchingReceipts: []Receipt{{
			Logs: []ReceiptLog{{
				Address: "0x0000000000000000000000000000000000001234",
				Topics: []string{
					TransferTopic.Hex(),
					topicAddr(whaleAddr),
					topicAddr(exchangeAddr),
				},
				Data: "0xffffffffffffffff",
			}},
		}},
	}

	intents, _, _ := d.Decode(payload, time.Now())
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	if intents[0].EstimatedValueUSD != 0 {
		t.Errorf("unknown token USD = %v, want 0", intents[0].EstimatedValueUSD)
	}
	if intents[0].ThreatLevel != types.ThreatLow {
		t.Errorf("threatLevel = %s, want LOW", intents[0].ThreatLevel)
	}
}

func TestThreatBands(t *testing.T) {
	t.Parallel()
	d := testDecoder(0)

	cases := []struct {
		usd  float64
		want types.ThreatLevel
	}{
		{0, types.ThreatLow},
		{99_999, types.ThreatLow},
		{100_000, types.ThreatMedium},
		{1_000_000, types.ThreatHigh},
		{10_000_000, types.ThreatCritical},
	}
	for _, tc := range cases {
		if got := d.threatLevel(tc.usd); got != tc.want {
			t.Errorf("threatLevel(%v) = %s, want %s", tc.usd, got, tc.want)
		}
	}
}

func TestWatchlistLookups(t *testing.T) {
	t.Parallel()
	cfg := testWhaleConfig()
	wl := NewWatchlist(cfg.Watchlist, cfg.ExchangeTags)

	if !wl.Contains(whaleAddr) {
		t.Error("watched address not found")
	}
	// Lookup is case-insensitive through address normalization.
	if !wl.Contains("0x00000000000000000000000000000000000A11CE") {
		t.Error("checksummed form of a watched address not found")
	}
	if wl.Contains(exchangeAddr) {
		t.Error("exchange address should not be on the watchlist")
	}
	if tag := wl.ExchangeTag(exchangeAddr); tag != "binance" {
		t.Errorf("exchange tag = %q, want binance", tag)
	}
	if wl.Len() != 1 {
		t.Errorf("len = %d, want 1", wl.Len())
	}
}

func TestMalformedHexValuesParseToZero(t *testing.T) {
	t.Parallel()
	if v := parseHexBig("not-hex"); v.Sign() != 0 {
		t.Errorf("parseHexBig(not-hex) = %v, want 0", v)
	}
	if v := parseHexBig(""); v.Sign() != 0 {
		t.Errorf("parseHexBig(\"\") = %v, want 0", v)
	}
	if v := parseHexBig("0x0de0b6b3a7640000"); v.String() != "1000000000000000000" {
		t.Errorf("1 ETH wei parse = %v", v)
	}
}
