package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

const (
	maxResponseBytes = 4 << 20
	maxRetryDelay    = 30 * time.Second
)

// Querier is the read-only view of the chain the calculator needs
type Querier interface {
	Inflation(ctx context.Context) (math.LegacyDec, error)
	BondedTokens(ctx context.Context) (math.Int, error)
	TotalSupply(ctx context.Context) (math.Int, error)
	BondedValidatorCount(ctx context.Context) (int64, error)
	CommunityTax(ctx context.Context) (math.LegacyDec, error)
}

// Client queries a Cosmos SDK REST (LCD) endpoint
type Client struct {
	baseURL    string
	cfg        *config.ChainConfig
	httpClient *http.Client
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Entry
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a REST client. m may be nil.
func NewClient(cfg *config.ChainConfig, m *metrics.PrometheusMetrics) (*Client, error) {
	parsed, err := url.Parse(cfg.RESTURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid chain REST URL", cfg.RESTURL)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.RESTURL, "/"),
		cfg:     cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		metrics: m,
		logger:  utils.ComponentLogger("chain"),
	}, nil
}

// Inflation returns the current annual inflation rate
func (c *Client) Inflation(ctx context.Context) (math.LegacyDec, error) {
	raw, err := c.field(ctx, "inflation", c.cfg.Endpoints.Inflation, nil, "inflation")
	if err != nil {
		return math.LegacyDec{}, err
	}
	dec, err := math.LegacyNewDecFromStr(raw)
	if err != nil {
		return math.LegacyDec{}, utils.NewAppError(utils.ErrCodeChain, "Invalid inflation value", raw)
	}
	return dec, nil
}

// BondedTokens returns the staking pool's bonded tokens in base units
func (c *Client) BondedTokens(ctx context.Context) (math.Int, error) {
	raw, err := c.field(ctx, "pool", c.cfg.Endpoints.Pool, nil, "pool.bonded_tokens")
	if err != nil {
		return math.Int{}, err
	}
	return parseInt("bonded tokens", raw)
}

// TotalSupply returns the total supply of the configured denom in base units
func (c *Client) TotalSupply(ctx context.Context) (math.Int, error) {
	query := url.Values{"denom": {c.cfg.Denom}}
	raw, err := c.field(ctx, "supply", c.cfg.Endpoints.Supply, query, "amount.amount")
	if err != nil {
		return math.Int{}, err
	}
	return parseInt("total supply", raw)
}

// BondedValidatorCount returns the number of validators in the active set.
// Only the pagination total is requested, not the validators themselves.
func (c *Client) BondedValidatorCount(ctx context.Context) (int64, error) {
	query := url.Values{
		"status":                 {"BOND_STATUS_BONDED"},
		"pagination.limit":       {"1"},
		"pagination.count_total": {"true"},
	}
	raw, err := c.field(ctx, "validators", c.cfg.Endpoints.Validators, query, "pagination.total")
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || count < 0 {
		return 0, utils.NewAppError(utils.ErrCodeChain, "Invalid validator count", raw)
	}
	return count, nil
}

// CommunityTax returns the distribution module's community tax rate
func (c *Client) CommunityTax(ctx context.Context) (math.LegacyDec, error) {
	raw, err := c.field(ctx, "distribution_params", c.cfg.Endpoints.DistributionParams, nil, "params.community_tax")
	if err != nil {
		return math.LegacyDec{}, err
	}
	dec, err := math.LegacyNewDecFromStr(raw)
	if err != nil {
		return math.LegacyDec{}, utils.NewAppError(utils.ErrCodeChain, "Invalid community tax value", raw)
	}
	return dec, nil
}

// field fetches path and extracts a single JSON value
func (c *Client) field(ctx context.Context, name, path string, query url.Values, jsonPath string) (string, error) {
	body, err := c.getJSON(ctx, name, path, query)
	if err != nil {
		return "", err
	}

	result := gjson.GetBytes(body, jsonPath)
	if !result.Exists() || result.String() == "" {
		return "", utils.NewAppError(utils.ErrCodeChain,
			fmt.Sprintf("Missing %q in %s response", jsonPath, name), "")
	}
	return result.String(), nil
}

func (c *Client) getJSON(ctx context.Context, name, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	call := func() ([]byte, error) {
		return c.doGet(ctx, name, endpoint)
	}

	body, err := retry.DoWithData(call,
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WithFields(logrus.Fields{
				"endpoint": name,
				"attempt":  n + 1,
				"error":    err,
			}).Warn("Chain request failed, retrying")
		}),
	)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeChain, fmt.Sprintf("Failed to query %s", name), err.Error())
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, name, endpoint string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "staking-stats/1.0")

	c.logger.WithField("url", endpoint).Debug("Fetching")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(name, "error", start)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.recordRequest(name, strconv.Itoa(resp.StatusCode), start)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, retry.Unrecoverable(statusErr)
	}

	if !gjson.ValidBytes(body) {
		return nil, retry.Unrecoverable(fmt.Errorf("invalid JSON from %s", name))
	}

	return body, nil
}

func (c *Client) recordRequest(name, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordChainRequest(name, status, time.Since(start))
	}
}

func parseInt(what, raw string) (math.Int, error) {
	value, ok := math.NewIntFromString(raw)
	if !ok || value.IsNegative() {
		return math.Int{}, utils.NewAppError(utils.ErrCodeChain, fmt.Sprintf("Invalid %s value", what), raw)
	}
	return value, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
