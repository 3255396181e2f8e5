/*
lbdemo wires an in-memory service discoverer and a plain TCP connection
factory into a loadbalancer.LoadBalancer, for manual smoke-testing of the
selection and health-check behavior without a real backend fleet.

For the list of command line options, run:

	lbdemo -help
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/skipper-lb/internal/conn"
	"github.com/zalando/skipper-lb/internal/sd"
	"github.com/zalando/skipper-lb/loadbalancer"
)

func main() {
	var (
		addresses        = flag.String("addresses", "127.0.0.1:9090,127.0.0.1:9091", "comma separated initial AVAILABLE addresses")
		failureThreshold = flag.Int("failure-threshold", 3, "consecutive connect failures before a host is quarantined")
		probeInterval    = flag.Duration("probe-interval", 5*time.Second, "base interval between re-probes of a quarantined host")
		probeJitter      = flag.Duration("probe-jitter", 2*time.Second, "extra uniformly distributed jitter added to each probe interval")
		resubscribeLower = flag.Duration("resubscribe-lower", 1*time.Second, "lower bound of the resubscribe backoff window")
		resubscribeUpper = flag.Duration("resubscribe-upper", 5*time.Second, "upper bound of the resubscribe backoff window")
		disableHealth    = flag.Bool("disable-health-check", false, "disable health checking entirely")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	discoverer := sd.New()
	factory := conn.NewTCPFactory()

	var hc *loadbalancer.HealthCheckConfig
	if !*disableHealth {
		hc = &loadbalancer.HealthCheckConfig{
			FailureThreshold: *failureThreshold,
			ProbeInterval:    *probeInterval,
			ProbeJitter:      *probeJitter,
			ResubscribeLower: *resubscribeLower,
			ResubscribeUpper: *resubscribeUpper,
			Clock:            loadbalancer.SystemClock{},
		}
	}

	lb, err := loadbalancer.New(loadbalancer.Options{
		Discoverer:        discoverer,
		ConnectionFactory: factory,
		HealthCheck:       hc,
		Log:               log.StandardLogger(),
	})
	if err != nil {
		log.Fatalf("failed to start load balancer: %s", err)
	}

	var batch loadbalancer.Batch
	for _, a := range strings.Split(*addresses, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		batch = append(batch, loadbalancer.Event{Address: loadbalancer.Address(a), Status: loadbalancer.StatusAvailable})
	}
	discoverer.Push(batch)

	ready, cancelReady := lb.Subscribe()
	defer cancelReady()
	go func() {
		for r := range ready {
			log.Infof("readiness: %s", r)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			if err := lb.Close(true); err != nil {
				log.Errorf("close: %s", err)
			}
			return
		case <-ticker.C:
			c, err := lb.SelectConnection(ctx, loadbalancer.AnyConnection)
			if err != nil {
				log.Warnf("select_connection failed: %s", err)
				continue
			}
			log.Infof("selected a connection")
			if tc, ok := c.(*conn.TCPConnection); ok {
				tc.Release()
			}
		}
	}
}
