package state

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/share"
	"github.com/temoto/auvshare/sim"
)

// Global is process wide state shared by subcommands via context.
type Global struct {
	Alive   *alive.Alive
	Config  *Config
	Log     *log2.Log
	Channel *share.Channel
	Vehicle *sim.Vehicle
	Runner  *sim.Runner
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error state.NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}

	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init only stores config. Endpoints are opened by InitChannel.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if cfg.Log.Debug {
		g.Log.SetLevel(log2.LDebug)
	}
	return cfg.Validate()
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// InitChannel binds sharing endpoints and prepares simulated vehicle.
func (g *Global) InitChannel(ctx context.Context) error {
	if g.Config == nil {
		return errors.Errorf("code error InitChannel before Init")
	}
	w, h := g.Config.Sim.ImageSize()
	g.Vehicle = sim.NewVehicle(w, h)
	ch, err := share.New(ctx, g.Log, g.Config.Share, g.Vehicle)
	if err != nil {
		return errors.Annotate(err, "InitChannel")
	}
	g.Channel = ch
	g.Runner = sim.NewRunner(g.Log, ch, g.Vehicle, g.Config.Sim)
	return nil
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

// Stop stops simulation then closes channel.
func (g *Global) Stop() error {
	g.Alive.Stop()
	if g.Runner != nil {
		g.Runner.Stop()
	}
	var err error
	if g.Channel != nil {
		err = g.Channel.Close()
	}
	g.Alive.Wait()
	return err
}
