package sim

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/auvshare/helpers"
)

type Config struct {
	TickMs           int `hcl:"tick_ms"`
	ImageWidth       int `hcl:"image_width"`
	ImageHeight      int `hcl:"image_height"`
	ControlTimeoutMs int `hcl:"control_timeout_ms"` // negative disables auto reset
}

const (
	DefaultTick           = 33 * time.Millisecond
	DefaultImageWidth     = 320
	DefaultImageHeight    = 240
	DefaultControlTimeout = time.Second
)

func (c *Config) Tick() time.Duration { return helpers.IntMillisecondDefault(c.TickMs, DefaultTick) }

func (c *Config) ControlTimeout() time.Duration {
	if c.ControlTimeoutMs < 0 {
		return 0
	}
	return helpers.IntMillisecondDefault(c.ControlTimeoutMs, DefaultControlTimeout)
}

func (c *Config) ImageSize() (int, int) {
	w, h := c.ImageWidth, c.ImageHeight
	if w == 0 {
		w = DefaultImageWidth
	}
	if h == 0 {
		h = DefaultImageHeight
	}
	return w, h
}

func (c *Config) Validate() error {
	errs := make([]error, 0)
	if c.TickMs < 0 {
		errs = append(errs, errors.NotValidf("sim.tick_ms=%d", c.TickMs))
	}
	if c.ImageWidth < 0 || c.ImageHeight < 0 {
		errs = append(errs, errors.NotValidf("sim.image_width=%d image_height=%d", c.ImageWidth, c.ImageHeight))
	}
	return helpers.FoldErrors(errs)
}
