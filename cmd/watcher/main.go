// Package main: queue watcher service.
//
// The watcher consumes the events queue services publish to the message broker and serves the latest state of every
// queued entry at /queue.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evannetwork/ui-angular-core-sub000/lib/config"
	"github.com/evannetwork/ui-angular-core-sub000/lib/logging"
	"github.com/evannetwork/ui-angular-core-sub000/lib/metrics"
	"github.com/evannetwork/ui-angular-core-sub000/lib/msg/amqp"
	"github.com/evannetwork/ui-angular-core-sub000/watcher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	name := flag.String("n", "watcher", "consumer name of the watcher in the message broker")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log := logging.New(conf.LogLevel)
	log.Debugf("Configuration:%+v", conf)

	if conf.MbType != "amqp" {
		log.WithField("mbtype", conf.MbType).Fatal("The watcher needs an amqp message broker")
	}

	// load message broker
	mb, err := amqp.New(conf.MbConn, log)
	if err != nil {
		time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

		if mb, err = amqp.New(conf.MbConn, log); err != nil {
			log.WithError(err).Fatal("Cannot connect to message broker")
		}
	}

	if err = mb.Setup(nil); err != nil {
		log.WithError(err).Fatal("Cannot set up message broker")
	}

	defer func() {
		if errClose := mb.Close(); errClose != nil {
			log.WithError(errClose).Error("Closing message broker")
		}
	}()

	w := watcher.New(*name, mb, log)

	// serve the queue state and metrics
	go func() {
		h := http.NewServeMux()
		h.Handle("/metrics", metrics.Handler())
		h.Handle("/queue", w.Handler())

		log.WithField("port", conf.MonitorPort).Info("Serving watcher API")

		if errSrv := http.ListenAndServe(":"+conf.MonitorPort, h); errSrv != nil {
			log.WithError(errSrv).Error("Watcher API stopped")
		}
	}()

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Warn("Program killed !")
		w.Stop()
	}()

	done, err := w.Watch()
	if err != nil {
		log.WithError(err).Fatal("Cannot watch queue events")
	}

	log.Infof("Watch: %s", <-done)
}
