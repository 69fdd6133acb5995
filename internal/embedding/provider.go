package embedding

import (
	"sync"

	"github.com/voxlock/voxlock-core/internal/config"
)

// Provider hands out a lazily constructed, shared Extractor. Concurrent
// first use performs exactly one initialization; every caller observes the
// fully built instance (or the single construction error).
type Provider struct {
	cfg  config.OracleConfig
	once sync.Once
	ext  Extractor
	err  error
}

func NewProvider(cfg config.OracleConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Get() (Extractor, error) {
	p.once.Do(func() {
		p.ext, p.err = NewExtractor(p.cfg)
	})
	return p.ext, p.err
}

func (p *Provider) Dimensions() int {
	return p.cfg.Dimensions
}
