// balance.go implements the native-balance lookup behind WHALE_BALANCE_CHECK.
//
// The provider is an Etherscan-style HTTP API. Lookups run behind a circuit
// breaker: a run of failures (provider outage, rate-limit storm, regional
// block) opens the breaker and fails fast instead of hammering the API.
package whale

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"sentrycoin/internal/config"
)

// PriceSource supplies the current native-asset USD price for balance
// valuation. Returns 0 when no price is known yet.
type PriceSource func() float64

// balanceResponse is the provider's JSON envelope.
type balanceResponse struct {
	Status  string `json:"status"` // "1" on success
	Message string `json:"message"`
	Result  string `json:"result"` // balance in wei, decimal string
}

// BalanceClient looks up native balances with breaker protection.
type BalanceClient struct {
	http    *resty.Client
	apiKey  string
	price   PriceSource
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBalanceClient builds the provider client. price may be nil; balances
// then report a USD value of 0.
func NewBalanceClient(cfg config.WhaleConfig, price PriceSource, logger *slog.Logger) *BalanceClient {
	httpClient := resty.New().
		SetBaseURL(cfg.EtherscanURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	log := logger.With("component", "balance_client")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "etherscan",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("balance provider breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &BalanceClient{
		http:    httpClient,
		apiKey:  cfg.EtherscanKey,
		price:   price,
		breaker: breaker,
		logger:  log,
	}
}

// Balance returns the address's native balance in ETH and its USD value.
func (c *BalanceClient) Balance(ctx context.Context, address string) (float64, float64, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, address)
	})
	if err != nil {
		return 0, 0, err
	}

	eth := out.(float64)
	usd := 0.0
	if c.price != nil {
		usd = eth * c.price()
	}
	return eth, usd, nil
}

func (c *BalanceClient) fetch(ctx context.Context, address string) (float64, error) {
	var result balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"module":  "account",
			"action":  "balance",
			"address": address,
			"tag":     "latest",
			"apikey":  c.apiKey,
		}).
		SetResult(&result).
		Get("")
	if err != nil {
		return 0, fmt.Errorf("balance request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("balance request: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Status != "1" {
		return 0, fmt.Errorf("balance provider rejected: %s", result.Message)
	}

	wei, ok := new(big.Int).SetString(result.Result, 10)
	if !ok {
		return 0, fmt.Errorf("balance provider returned non-numeric result %q", result.Result)
	}
	return WeiToEth(wei), nil
}

// WeiToEth converts a wei amount to a float64 ETH value.
func WeiToEth(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(params.Ether))
	out, _ := f.Float64()
	return out
}
