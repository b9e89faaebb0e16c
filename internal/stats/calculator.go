package stats

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/staking-stats/internal/chain"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// aprScale rounds the APR percentage to four decimal places
const aprScale = 10_000

// Calculator computes a staking snapshot from chain data
type Calculator struct {
	querier           chain.Querier
	decimals          int
	applyCommunityTax bool
	logger            *logrus.Entry
}

// NewCalculator creates a calculator. decimals is the exponent between the
// base denom and the display unit (6 for unil -> NIL).
func NewCalculator(querier chain.Querier, decimals int, applyCommunityTax bool) *Calculator {
	return &Calculator{
		querier:           querier,
		decimals:          decimals,
		applyCommunityTax: applyCommunityTax,
		logger:            utils.ComponentLogger("calculator"),
	}
}

// Calculate fetches all inputs and builds the snapshot. Every input is
// required; a single failure fails the whole calculation.
func (c *Calculator) Calculate(ctx context.Context) (*models.Snapshot, error) {
	var (
		inflation      math.LegacyDec
		communityTax   = math.LegacyZeroDec()
		bonded         math.Int
		supply         math.Int
		validatorCount int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		inflation, err = c.querier.Inflation(gctx)
		return err
	})
	g.Go(func() (err error) {
		bonded, err = c.querier.BondedTokens(gctx)
		return err
	})
	g.Go(func() (err error) {
		supply, err = c.querier.TotalSupply(gctx)
		return err
	})
	g.Go(func() (err error) {
		validatorCount, err = c.querier.BondedValidatorCount(gctx)
		return err
	})
	if c.applyCommunityTax {
		g.Go(func() (err error) {
			communityTax, err = c.querier.CommunityTax(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch staking inputs: %w", err)
	}

	apr, err := APRPercentage(inflation, communityTax, supply, bonded)
	if err != nil {
		return nil, err
	}
	totalStaked, err := ToDisplayUnits(bonded, c.decimals)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"inflation":         inflation.String(),
		"community_tax":     communityTax.String(),
		"bonded_tokens":     bonded.String(),
		"total_supply":      supply.String(),
		"apr_percentage":    apr,
		"total_staked":      totalStaked,
		"active_validators": validatorCount,
	}).Info("Calculated staking stats")

	return models.NewSnapshot(apr, totalStaked, validatorCount), nil
}

// APRPercentage returns inflation*(1-communityTax)*supply/bonded*100,
// rounded half-even to four decimals. Zero bonded tokens yield 0.
func APRPercentage(inflation, communityTax math.LegacyDec, supply, bonded math.Int) (float64, error) {
	if bonded.IsZero() {
		return 0, nil
	}
	if communityTax.IsNegative() || communityTax.GT(math.LegacyOneDec()) {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Community tax out of range", communityTax.String())
	}

	effective := inflation.Mul(math.LegacyOneDec().Sub(communityTax))
	apr := effective.MulInt(supply).QuoInt(bonded).MulInt64(100)

	scaled := apr.MulInt64(aprScale).RoundInt()
	if !scaled.IsInt64() {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "APR out of range", apr.String())
	}
	return float64(scaled.Int64()) / aprScale, nil
}

// ToDisplayUnits converts base-denom amounts to display units
func ToDisplayUnits(amount math.Int, decimals int) (float64, error) {
	if decimals < 0 || decimals > math.LegacyPrecision {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Unsupported decimals", fmt.Sprint(decimals))
	}
	divisor := math.NewIntWithDecimal(1, decimals)
	value, err := math.LegacyNewDecFromInt(amount).QuoInt(divisor).Float64()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Amount out of range", amount.String())
	}
	return value, nil
}
