// internal/logging/sampling.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with level-aware sampling. Error and above
// bypass the sampler entirely: budget denials, gate rejections, and
// store failures must never be sampled away.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errorBand := &levelBandCore{
		Core:  core,
		floor: zapcore.ErrorLevel,
	}

	// Warn and below carry the chatty per-call detail and get sampled
	// at the Info rate.
	chattyBand := &levelBandCore{
		Core:    core,
		ceiling: zapcore.WarnLevel,
	}
	rates := cfg.Levels[zapcore.InfoLevel]

	sampled := zapcore.NewSamplerWithOptions(
		chattyBand,
		cfg.Tick.Duration(),
		rates.Initial,
		rates.Thereafter,
	)

	return zapcore.NewTee(errorBand, sampled)
}

// levelBandCore admits only entries inside a level band.
type levelBandCore struct {
	zapcore.Core
	floor   zapcore.Level // only log >= floor (0 = no floor)
	ceiling zapcore.Level // only log <= ceiling (0 = no ceiling)
}

func (c *levelBandCore) Enabled(lvl zapcore.Level) bool {
	if c.floor != 0 && lvl < c.floor {
		return false
	}
	if c.ceiling != 0 && lvl > c.ceiling {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelBandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that keeps the band.
func (c *levelBandCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelBandCore{
		Core:    c.Core.With(fields),
		floor:   c.floor,
		ceiling: c.ceiling,
	}
}
