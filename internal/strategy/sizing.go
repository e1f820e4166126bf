package strategy

import (
	"errors"
	"sync"

	"liq-reaction-bot/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SizingParams struct {
	Mode               string
	FixedRisk          float64
	RiskPercent        float64
	Leverage           int
	ContractMultiplier float64
	FallbackSize       float64
	SizeDecimals       int32
}

// ComputeSize converts a risk budget into contract units.
func ComputeSize(p SizingParams, overlay Overlay, balance, price float64) (float64, error) {
	if price <= 0 {
		return 0, errors.New("price must be > 0")
	}
	if overlay.StopLossPct <= 0 || p.Leverage <= 0 {
		return 0, errors.New("stop loss and leverage must be > 0")
	}
	lev := float64(p.Leverage)
	var usd float64
	if p.Mode == config.SizingFixed {
		risk := p.FixedRisk
		if overlay.FixedRisk > 0 {
			risk = overlay.FixedRisk
		}
		usd = risk * overlay.StopLossPct * lev
	} else {
		pct := p.RiskPercent
		if overlay.RiskPercent > 0 {
			pct = overlay.RiskPercent
		}
		usd = balance / (overlay.StopLossPct * lev) * pct
	}
	size, _ := decimal.NewFromFloat(usd / price * lev * p.ContractMultiplier).Round(p.SizeDecimals).Float64()
	if size <= 0 {
		return 0, errors.New("computed size is zero")
	}
	return size, nil
}

type SizeChange struct {
	Overlay  string
	Previous float64
	Size     float64
}

// Sizer caches one size per overlay between sizing slots.
type Sizer struct {
	params SizingParams
	log    *zap.Logger

	mu    sync.RWMutex
	sizes map[string]float64
}

func NewSizer(params SizingParams, log *zap.Logger) *Sizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sizer{params: params, log: log, sizes: make(map[string]float64)}
}

// Update recomputes sizes. A fetch error or a failed computation falls back to the minimal size.
// Only sizes that differ from the cached value are returned.
func (s *Sizer) Update(overlays []Overlay, balance, price float64, fetchErr error) []SizeChange {
	var changes []SizeChange
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range overlays {
		size := s.params.FallbackSize
		if fetchErr == nil {
			computed, err := ComputeSize(s.params, o, balance, price)
			if err != nil {
				s.log.Warn("position size fallback", zap.String("overlay", o.Name), zap.Error(err))
			} else {
				size = computed
			}
		}
		prev, ok := s.sizes[o.Name]
		if ok && prev == size {
			continue
		}
		s.sizes[o.Name] = size
		changes = append(changes, SizeChange{Overlay: o.Name, Previous: prev, Size: size})
		s.log.Info("position size", zap.String("overlay", o.Name), zap.Float64("size", size))
	}
	if fetchErr != nil {
		s.log.Warn("position size inputs unavailable", zap.Error(fetchErr))
	}
	return changes
}

func (s *Sizer) Size(overlay string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if size, ok := s.sizes[overlay]; ok {
		return size
	}
	return s.params.FallbackSize
}
