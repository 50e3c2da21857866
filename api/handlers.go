package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/util"
)

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("queue entry not found")
	ErrPattern    = errors.New("a queue id without wildcards is required")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// AddReq is the body of a request queueing a payload.
type AddReq struct {
	Data         queue.Payload `json:"data"`
	IDProperties []string      `json:"idProperties,omitempty"`
	ForceReload  bool          `json:"forceReload,omitempty"`
}

// Entry is the view of a queue entry replied to clients.
type Entry struct {
	QueueID queue.ID         `json:"queueId"`
	Data    []queue.Payload  `json:"data"`
	Status  int              `json:"status"`
	Steps   int              `json:"steps,omitempty"` // zero until the dispatcher is loaded
	Working bool             `json:"working"`
	Ex      *queue.ErrorInfo `json:"ex,omitempty"`
	Results []interface{}    `json:"results,omitempty"`
}

// Finish is the message streamed to finish subscribers.
type Finish struct {
	QueueID queue.ID      `json:"queueId"`
	Results []interface{} `json:"results"`
}

func view(e *queue.Entry) Entry {
	v := Entry{
		QueueID: e.QueueID,
		Data:    e.Data,
		Status:  e.Status,
		Working: e.Working,
		Ex:      e.Ex,
		Results: e.Results,
	}

	if e.Dispatcher != nil {
		v.Steps = len(e.Dispatcher.Sequence)
	}

	return v
}

// reply writes res to the client with the status code and logs the request.
func (s *Server) reply(rw http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = err.Error()
	} else if str, ok := body.(string); ok {
		res.Body = str
	} else {
		tmp, _ := json.Marshal(body)
		res.Body = string(tmp)
	}
	// log request
	s.log.WithField("remote", r.RemoteAddr).WithField("status", status).WithError(err).
		Debugf("httpreq %s %s", r.Method, r.RequestURI)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// queueID reads the queue id from the uri. Empty or "*" dimensions are wildcards.
func queueID(r *http.Request) queue.ID {
	v := mux.Vars(r)

	return queue.NewID(v["ens"], v["dispatcher"], v["id"])
}

// homeHandler just replies a welcome message to the client.
func (s *Server) homeHandler(rw http.ResponseWriter, r *http.Request) {
	s.reply(rw, r, http.StatusOK, "Hello, this is your offline write queue!", nil)
}

// entriesHandler replies the queued entries, only those of the ens addresses in the query if any.
func (s *Server) entriesHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	entries := []Entry{}

	defer func() {
		if err != nil {
			s.reply(rw, r, http.StatusBadRequest, nil, err)
		} else {
			s.reply(rw, r, http.StatusOK, entries, nil)
		}
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	ens := r.Form["ens"]

	for _, e := range s.q.Entries() {
		if len(ens) == 0 || util.In(ens, e.QueueID.ENSAddress) {
			entries = append(entries, view(e))
		}
	}
}

// entryHandler replies the first entry selected by the queue id. With ?fill=1, an empty entry is replied when none
// is queued.
func (s *Server) entryHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var e *queue.Entry

	defer func() {
		switch {
		case errors.Is(err, ErrNotFound):
			s.reply(rw, r, http.StatusNotFound, nil, err)
		case err != nil:
			s.reply(rw, r, http.StatusBadRequest, nil, err)
		default:
			s.reply(rw, r, http.StatusOK, view(e), nil)
		}
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	fill := r.Form.Get("fill") == "1" || r.Form.Get("fill") == "true"

	if e = s.q.GetQueueEntry(queueID(r), fill); e == nil {
		err = ErrNotFound
	}
}

// addHandler queues the payload of the request body.
func (s *Server) addHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	id := queueID(r)

	defer func() {
		if err != nil {
			s.reply(rw, r, http.StatusBadRequest, nil, err)
		} else {
			s.reply(rw, r, http.StatusAccepted, id, nil)
		}
	}()

	var req AddReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %s", ErrBadRequest, err)

		return
	}

	if req.Data == nil {
		err = fmt.Errorf("%w: missing data", ErrBadRequest)

		return
	}

	id.ForceReload = req.ForceReload

	if err = s.q.AddQueueData(r.Context(), id, req.Data, req.IDProperties...); errors.Is(err, queue.ErrPatternID) {
		err = ErrPattern
	}
}

// removeHandler discards the entry of the queue id.
func (s *Server) removeHandler(rw http.ResponseWriter, r *http.Request) {
	id := queueID(r)

	err := s.q.RemoveQueueEntry(r.Context(), id)

	switch {
	case errors.Is(err, queue.ErrEntryNotFound):
		s.reply(rw, r, http.StatusNotFound, nil, ErrNotFound)
	case errors.Is(err, queue.ErrEntryWorking):
		s.reply(rw, r, http.StatusConflict, nil, err)
	case err != nil:
		s.reply(rw, r, http.StatusInternalServerError, nil, err)
	default:
		s.reply(rw, r, http.StatusOK, id, nil)
	}
}

// syncAllHandler starts syncing all the entries. With ?disableErrors=true, entries that stopped on an error are
// skipped. It replies before the sync finished.
func (s *Server) syncAllHandler(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reply(rw, r, http.StatusBadRequest, nil, err)

		return
	}

	disableErrors := r.Form.Get("disableErrors") == "true"

	s.background(func(ctx context.Context) {
		if err := s.q.StartSyncAll(ctx, disableErrors); err != nil {
			s.log.WithError(err).Warn("Sync finished with errors")
		}
	})

	s.reply(rw, r, http.StatusAccepted, "", nil)
}

// syncHandler starts syncing the entry of the queue id. It replies before the sync finished.
func (s *Server) syncHandler(rw http.ResponseWriter, r *http.Request) {
	id := queueID(r)

	if id.IsPattern() {
		s.reply(rw, r, http.StatusBadRequest, nil, ErrPattern)

		return
	}

	e := s.q.GetQueueEntry(id, false)
	if e == nil {
		s.reply(rw, r, http.StatusNotFound, nil, ErrNotFound)

		return
	}

	s.background(func(ctx context.Context) {
		if err := s.q.StartSync(ctx, e); err != nil {
			s.log.WithField("queue", id.String()).WithError(err).Warn("Sync failed")
		}
	})

	s.reply(rw, r, http.StatusAccepted, id, nil)
}

// exceptionHandler replies whether an entry selected by the queue id stopped on an error.
func (s *Server) exceptionHandler(rw http.ResponseWriter, r *http.Request) {
	s.reply(rw, r, http.StatusOK, s.q.IsException(queueID(r)), nil)
}

// i18nHandler replies the translation of a key registered by the dispatchers.
func (s *Server) i18nHandler(rw http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)

	s.reply(rw, r, http.StatusOK, s.q.Runtime().Translate(v["lang"], v["key"]), nil)
}

// finishHandler upgrades the connection to a websocket and streams a Finish message every time an entry selected by
// the queue id finished. The first message, with no results, confirms the subscription.
func (s *Server) finishHandler(rw http.ResponseWriter, r *http.Request) {
	id := queueID(r)

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Cannot upgrade finish subscription")

		return
	}
	defer conn.Close()

	log := s.log.WithField("queue", id.String()).WithField("remote", r.RemoteAddr)

	finished := make(chan Finish, 16) //nolint:gomnd // buffered notifications per subscriber

	unsubscribe := s.q.OnQueueFinish(id, func(fid queue.ID, results []interface{}) {
		select {
		case finished <- Finish{QueueID: fid, Results: results}:
		default:
			log.Warn("Finish subscriber too slow, notification dropped")
		}
	})
	defer unsubscribe()

	log.Debug("Finish subscriber connected")

	// the client does not send anything, reading detects when it goes away
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-finished:
			_ = conn.SetWriteDeadline(time.Now().Add(timeout * time.Second))
			if err := conn.WriteJSON(f); err != nil {
				log.WithError(err).Debug("Finish subscriber gone")

				return
			}
		case <-closed:
			log.Debug("Finish subscriber disconnected")

			return
		case <-s.ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))

			return
		}
	}
}
