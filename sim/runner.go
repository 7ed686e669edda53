package sim

import (
	"context"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/share"
)

// Channel is the part of share.Channel used by simulation loop.
type Channel interface {
	GetControl() share.Control
	ControlAge() time.Duration
	ResetIfOlder(d time.Duration) bool
	Update(dt time.Duration)
}

var _ Channel = &share.Channel{}

// Runner calls Step every tick until Stop or ctx done.
type Runner struct {
	alive   *alive.Alive
	ch      Channel
	log     *log2.Log
	tick    time.Duration
	timeout time.Duration
	vehicle *Vehicle
	steps   uint64
}

func NewRunner(log *log2.Log, ch Channel, v *Vehicle, config Config) *Runner {
	return &Runner{
		alive:   alive.NewAlive(),
		ch:      ch,
		log:     log,
		tick:    config.Tick(),
		timeout: config.ControlTimeout(),
		vehicle: v,
	}
}

// Step applies current control and publishes one frame.
// Stale control is reset so a dead console does not leave vehicle spinning.
func (r *Runner) Step(dt time.Duration) {
	if r.timeout > 0 && r.ch.ResetIfOlder(r.timeout) {
		r.log.Infof("sim control stale age=%v, reset", r.ch.ControlAge())
	}
	r.vehicle.Apply(r.ch.GetControl(), dt)
	r.ch.Update(dt)
	r.steps++
}

func (r *Runner) Start(ctx context.Context) {
	if !r.alive.Add(1) {
		return
	}
	go r.loop(ctx)
}

func (r *Runner) Stop() {
	r.alive.Stop()
	r.alive.Wait()
}

// Steps waits for loop to finish and returns number of ticks.
func (r *Runner) Steps() uint64 {
	r.alive.Wait()
	return r.steps
}

func (r *Runner) loop(ctx context.Context) {
	defer r.alive.Done()
	defer r.alive.Stop()
	tmr := time.NewTicker(r.tick)
	defer tmr.Stop()
	last := time.Now()
	stopch := r.alive.StopChan()
	donech := ctx.Done()
	for {
		select {
		case now := <-tmr.C:
			r.Step(now.Sub(last))
			last = now

		case <-donech:
			return

		case <-stopch:
			return
		}
	}
}
