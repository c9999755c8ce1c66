package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
)

// Mover ranking kinds.
const (
	MoversGainers = "gainers"
	MoversLosers  = "losers"
	MoversVolume  = "volume"
)

// MoversUseCase ranks symbols by 24h change or quote volume.
type MoversUseCase struct {
	rest domrepo.ExchangeREST
	// restrict rankings to one quote asset so BTC pairs and stablecoin
	// pairs are not mixed in the same list
	quoteSuffix string
}

func NewMoversUseCase(rest domrepo.ExchangeREST) *MoversUseCase {
	return &MoversUseCase{rest: rest, quoteSuffix: "USDT"}
}

type GetMoversParams struct {
	Kind  string
	Limit int
}

func (uc *MoversUseCase) GetMovers(ctx context.Context, p GetMoversParams) ([]models.Mover, error) {
	switch p.Kind {
	case MoversGainers, MoversLosers, MoversVolume:
	case "":
		p.Kind = MoversGainers
	default:
		return nil, fmt.Errorf("unknown movers kind: %s", p.Kind)
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}

	stats, err := uc.rest.GetAll24hStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get movers: %w", err)
	}

	movers := make([]models.Mover, 0, len(stats))
	for i := range stats {
		if !strings.HasSuffix(stats[i].Symbol, uc.quoteSuffix) {
			continue
		}
		movers = append(movers, models.Mover{
			Symbol:        stats[i].Symbol,
			LastPrice:     stats[i].LastPrice,
			ChangePercent: stats[i].ChangePercent,
			QuoteVolume:   stats[i].QuoteVolume,
		})
	}

	switch p.Kind {
	case MoversGainers:
		sort.Slice(movers, func(i, j int) bool {
			return movers[i].ChangePercent.GreaterThan(movers[j].ChangePercent)
		})
	case MoversLosers:
		sort.Slice(movers, func(i, j int) bool {
			return movers[i].ChangePercent.LessThan(movers[j].ChangePercent)
		})
	case MoversVolume:
		sort.Slice(movers, func(i, j int) bool {
			return movers[i].QuoteVolume.GreaterThan(movers[j].QuoteVolume)
		})
	}

	if len(movers) > p.Limit {
		movers = movers[:p.Limit]
	}
	return movers, nil
}
