// Package api implements the HTTP interface of the queue service.
//
// DApps queue their writes, trigger and observe synchronisation and read the state of the queue through a RESTful
// API. Every reply is a JSON Response whose body holds the JSON encoded result. Finish notifications are streamed
// over a websocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

const timeout = 15

// Server serves the API of a queue.
type Server struct {
	q   *queue.Queue
	log logrus.FieldLogger

	ctx    context.Context // cancelled on Stop, bounds the syncs started by requests
	cancel context.CancelFunc
	wg     sync.WaitGroup // syncs started by requests

	upgrader websocket.Upgrader

	s    *http.Server  // http server
	ss   *http.Server  // https server
	sc   chan struct{} // closed when the servers are shut down
	once sync.Once
}

// New returns the API server of q.
func New(q *queue.Queue, log logrus.FieldLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		q:      q,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024, //nolint:gomnd // bytes
			WriteBufferSize: 1024, //nolint:gomnd // bytes
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sc: make(chan struct{}),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/queue", s.entriesHandler).Methods(http.MethodGet)                           // list entries
	r.HandleFunc("/queue/{ens}/{dispatcher}/{id}", s.entryHandler).Methods(http.MethodGet)     // get an entry
	r.HandleFunc("/queue/{ens}/{dispatcher}/{id}", s.addHandler).Methods(http.MethodPost)      // queue a payload
	r.HandleFunc("/queue/{ens}/{dispatcher}/{id}", s.removeHandler).Methods(http.MethodDelete) // discard an entry
	r.HandleFunc("/sync", s.syncAllHandler).Methods(http.MethodPost)                           // sync all entries
	r.HandleFunc("/sync/{ens}/{dispatcher}/{id}", s.syncHandler).Methods(http.MethodPost)      // sync an entry
	r.HandleFunc("/exception/{ens}/{dispatcher}/{id}", s.exceptionHandler).Methods(http.MethodGet)
	r.HandleFunc("/i18n/{lang}/{key}", s.i18nHandler).Methods(http.MethodGet)
	r.HandleFunc("/finish/{ens}/{dispatcher}/{id}", s.finishHandler).Methods(http.MethodGet) // websocket

	return r
}

// Init sets up and starts the http/https server to service the API. If sslPort, sslCert and sslKey are informed, it
// will also start an https (TLS) server on the specified endpoint. It returns when Stop was called.
func (s *Server) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var (
		l           sync.Mutex
		err, errTLS error
	)

	r := s.Router()

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			e := s.s.ListenAndServe()
			l.Lock()
			err = e
			l.Unlock()
		}()

		s.log.Infof("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			e := s.ss.ListenAndServeTLS(sslCert, sslKey)
			l.Lock()
			errTLS = e
			l.Unlock()
		}()

		s.log.Infof("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	l.Lock()
	defer l.Unlock()

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}

// Stop shuts down the http servers, cancels the syncs started by requests and waits for them to stop.
func (s *Server) Stop() {
	s.once.Do(func() {
		if s.s != nil {
			if err := s.s.Shutdown(context.Background()); err != nil {
				s.log.WithError(err).Error("Error in http server shutdown")
			}
		}

		if s.ss != nil {
			if err := s.ss.Shutdown(context.Background()); err != nil {
				s.log.WithError(err).Error("Error in https server shutdown")
			}
		}

		s.cancel()
		s.wg.Wait()
		close(s.sc) // indicate shutdowns have finished
	})
}

// background runs f with the server context unless the server is stopping.
func (s *Server) background(f func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		f(s.ctx)
	}()
}
