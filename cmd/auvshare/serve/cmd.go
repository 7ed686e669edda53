// Package serve runs sharing channel driven by simulated vehicle.
package serve

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/auvshare/cmd/auvshare/subcmd"
	"github.com/temoto/auvshare/state"
)

const modName = "serve"

var Mod = subcmd.Mod{Name: modName, Usage: "publish simulated vehicle (default)", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	if err := g.InitChannel(ctx); err != nil {
		return errors.Annotate(err, modName)
	}
	for name, addr := range g.Channel.Addrs() {
		g.Log.Infof("%s endpoint=%s addr=%s", modName, name, addr)
	}

	var srv *http.Server
	if config.Metrics.Listen != "" {
		var err error
		if srv, err = startMetrics(ctx, config.Metrics.Listen); err != nil {
			_ = g.Stop()
			return errors.Annotate(err, modName)
		}
	}

	g.Runner.Start(ctx)
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("%s ready codec=%s", modName, g.Channel.Codec().Name())

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	select {
	case s := <-sigch:
		g.Log.Infof("%s signal=%v", modName, s)
	case <-g.Alive.StopChan():
	}

	subcmd.SdNotify(daemon.SdNotifyStopping)
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	err := g.Stop()
	g.Log.Infof("%s stopped steps=%d", modName, g.Runner.Steps())
	return errors.Annotate(err, modName)
}

func startMetrics(ctx context.Context, listen string) (*http.Server, error) {
	g := state.GetGlobal(ctx)
	if err := g.Channel.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, errors.Annotate(err, "metrics register")
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Annotatef(err, "metrics listen=%s", listen)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.Error(err, "metrics serve")
		}
	}()
	g.Log.Infof("metrics listen=%s", ln.Addr())
	return srv, nil
}
