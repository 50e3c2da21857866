package queue

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Payload types understood by AddQueueData when upserting by identity properties.
const (
	TypeAdd    = "add"
	TypeRemove = "remove"
)

// Payload is one write waiting to be synced by the entry's dispatcher.
type Payload map[string]interface{}

// Type returns the "type" property of the payload, if any.
func (p Payload) Type() string {
	t, _ := p["type"].(string)

	return t
}

// sameIdentity reports whether p and o hold equal values for every property in props.
func (p Payload) sameIdentity(o Payload, props []string) bool {
	for _, prop := range props {
		if !reflect.DeepEqual(p[prop], o[prop]) {
			return false
		}
	}

	return true
}

// ErrorInfo keeps the error of the last failed step of an entry.
type ErrorInfo struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Level     string `json:"level"`
}

func newErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{
		Timestamp: time.Now().UnixMilli(),
		Message:   err.Error(),
		Stack:     fmt.Sprintf("%+v", err),
		Level:     "error",
	}
}

// Entry is the queued work of one ID: the pending payloads, the index of the next step to run and the results of
// the steps that already ran. Working and Dispatcher only live in memory.
//
// While an entry is being synced, its steps only see the payloads queued when the sync started. Payloads added
// meanwhile stay queued for the next sync.
type Entry struct {
	QueueID    ID            `json:"queueId"`
	Data       []Payload     `json:"data"`
	Status     int           `json:"status"`
	Working    bool          `json:"-"`
	Ex         *ErrorInfo    `json:"ex,omitempty"`
	Results    []interface{} `json:"results,omitempty"`
	Dispatcher *Dispatcher   `json:"-"`

	synced int // leading payloads taken by the running sync
}

// upsert adds p to the entry data. When props is given, a payload with the same identity is replaced, or dropped when
// one of both is an "add" and the other a "remove". Payloads taken by a running sync are left untouched.
func (e *Entry) upsert(p Payload, props []string) {
	if len(props) == 0 {
		e.Data = append(e.Data, p)

		return
	}

	for i := e.synced; i < len(e.Data); i++ {
		existing := e.Data[i]
		if !existing.sameIdentity(p, props) {
			continue
		}

		if cancels(existing.Type(), p.Type()) {
			e.Data = append(e.Data[:i], e.Data[i+1:]...)
		} else {
			e.Data[i] = p
		}

		return
	}

	e.Data = append(e.Data, p)
}

func cancels(a, b string) bool {
	return (a == TypeAdd && b == TypeRemove) || (a == TypeRemove && b == TypeAdd)
}

// acquire marks the entry as being synced with its current payloads. Must be called with the queue lock held.
func (e *Entry) acquire() {
	e.Working = true
	e.synced = len(e.Data)
}

// release ends the running sync. Must be called with the queue lock held.
func (e *Entry) release() {
	e.Working = false
	e.synced = 0
}

// stepView returns a copy of the entry holding only the payloads taken by the running sync.
func (e *Entry) stepView() *Entry {
	c := e.clone()
	c.Data = c.Data[:e.synced]
	c.synced = 0

	return c
}

// clone returns a copy of the entry safe to hand out of the queue lock.
func (e *Entry) clone() *Entry {
	c := *e
	c.Data = append([]Payload(nil), e.Data...)
	c.Results = append([]interface{}(nil), e.Results...)

	if e.Ex != nil {
		ex := *e.Ex
		c.Ex = &ex
	}

	return &c
}

// cacheable returns the result when it survives a JSON round trip, or an error placeholder otherwise.
func cacheable(result interface{}) interface{} {
	b, err := json.Marshal(result)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("result is not serializable: %s", err)}
	}

	var v interface{}
	if err = json.Unmarshal(b, &v); err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("result is not serializable: %s", err)}
	}

	return v
}
