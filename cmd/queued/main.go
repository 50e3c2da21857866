// Package main: offline write queue service.
//
// The service keeps the queue of pending blockchain writes, syncs it on a schedule or on request through its RESTful
// API and publishes every queue change to the message broker, where the watcher service picks them up.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarancss/hd"

	"github.com/evannetwork/ui-angular-core-sub000/api"
	"github.com/evannetwork/ui-angular-core-sub000/dispatchers/addressbook"
	"github.com/evannetwork/ui-angular-core-sub000/dispatchers/transfer"
	"github.com/evannetwork/ui-angular-core-sub000/lib/block"
	"github.com/evannetwork/ui-angular-core-sub000/lib/config"
	"github.com/evannetwork/ui-angular-core-sub000/lib/logging"
	"github.com/evannetwork/ui-angular-core-sub000/lib/metrics"
	"github.com/evannetwork/ui-angular-core-sub000/lib/msg"
	"github.com/evannetwork/ui-angular-core-sub000/lib/msg/amqp"
	"github.com/evannetwork/ui-angular-core-sub000/lib/msg/local"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/script"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store/db"
	"github.com/evannetwork/ui-angular-core-sub000/scheduler"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log := logging.New(conf.LogLevel)
	log.WithField("config", *confPath).Debugf("Configuration:%+v", conf)

	// connect to database
	dbConn, err := db.New(conf.DBType, conf.DBConn, conf.QueueKey)
	if err != nil {
		log.WithError(err).Fatal("Cannot connect to database")
	}

	log.WithField("db", conf.DBType).Info("Connected to database")

	defer func() {
		if errClose := db.Close(conf.DBType, dbConn); errClose != nil {
			log.WithError(errClose).Error("Closing database")
		}
	}()

	// load all blockchains
	blocks, err := block.Init(conf.Bc, log)
	if err != nil {
		log.WithError(err).Fatal("Cannot load blockchain clients")
	}

	defer block.End(blocks)

	log.WithField("chains", len(blocks)).Info("Blockchain clients loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.WithField("port", conf.MonitorPort).Info("Serving metrics API")

			h := http.NewServeMux()
			h.Handle("/metrics", metrics.Handler())

			if errMon := http.ListenAndServe(":"+conf.MonitorPort, h); errMon != nil {
				log.WithError(errMon).Error("Metrics API stopped")
			}
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn, log); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn, log); err != nil {
				log.WithError(err).Fatal("Cannot connect to message broker")
			}
		}
	case "local":
		mb = local.New()
	default:
		log.WithField("mbtype", conf.MbType).Warn("Unknown message broker type, queue events are not published")
	}

	opts := []queue.Option{queue.WithLogger(log), queue.WithLanguage(conf.Language)}

	if mb != nil {
		if err = mb.Setup(nil); err != nil {
			log.WithError(err).Fatal("Cannot set up message broker")
		}

		defer func() {
			if errClose := mb.Close(); errClose != nil {
				log.WithError(errClose).Error("Closing message broker")
			}
		}()

		opts = append(opts, queue.WithNotifier(msg.Notifier(mb, log)))
	}

	// load HD wallet
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		log.WithError(err).Fatal("Invalid HD wallet seed")
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		log.WithError(err).Fatal("Cannot load HD wallet")
	}

	// dispatchers built in the service come first, then the DApp scripts
	loaders := queue.Loaders{queue.NewRegistry(
		transfer.Module(transfer.NewService(blocks, transfer.HDKeys(hdw), conf.SendRate, conf.DryRun, log)),
		addressbook.Module(addressbook.NewService(dbConn)),
	)}

	if conf.ScriptsDir != "" {
		loaders = append(loaders, &script.Loader{Dir: conf.ScriptsDir, Log: log})
	}

	q := queue.New(dbConn, queue.NewRuntime(loaders), opts...)
	if err = q.Init(context.Background()); err != nil {
		log.WithError(err).Fatal("Cannot load queue")
	}

	// periodic sync
	sched, err := scheduler.New(conf.SyncSchedule, q, log)
	if err != nil {
		log.WithError(err).Fatal("Cannot schedule sync")
	}

	sched.Start()

	s := api.New(q, log)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Warn("Program killed !")
		// do last actions and wait for all running syncs to stop
		sched.Stop()
		s.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Infof("Queue: %s", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
