// Package script loads dispatcher modules written in JavaScript. The module of an ens address is the file
// <Dir>/<ensAddress>.js, evaluated once with goja. It must define a global "dispatchers" object:
//
//	var dispatchers = {
//	  profileDispatcher: {
//	    serviceName: "profileService",       // optional, a key of the global "services" object
//	    i18n: {en: {title: "Profile"}},      // optional
//	    sequence: [
//	      {name: "save", description: "...", run: function(entry, service) { return "0x..."; }},
//	    ],
//	  },
//	};
//
// run receives the entry (queueId, data, status, results) and the dispatcher service. Its return value, or the value
// its returned promise is fulfilled with, is the step result. A thrown exception fails the step. Scripts can call
// log(...) to write to the service log.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// Errors returned by script modules.
var (
	ErrNoDispatchers = errors.New("script does not define dispatchers")
	ErrBadDispatcher = errors.New("malformed dispatcher definition")
	ErrPending       = errors.New("step returned a promise that is still pending")
)

// Loader implements queue.Loader over a directory of scripts.
type Loader struct {
	Dir string
	Log logrus.FieldLogger
}

// module is a loaded script. A goja runtime cannot be used by several goroutines, so steps take turns.
type module struct {
	l   sync.Mutex
	vm  *goja.Runtime
	ens string
}

// Load implements queue.Loader.
func (l *Loader) Load(ctx context.Context, ensAddress string) (*queue.Module, error) {
	if ensAddress == "" || strings.ContainsAny(ensAddress, `/\`) || strings.HasPrefix(ensAddress, ".") {
		return nil, fmt.Errorf("%s: %w", ensAddress, queue.ErrModuleNotFound)
	}

	path := filepath.Join(l.Dir, ensAddress+".js")

	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ensAddress, queue.ErrModuleNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read script %s: %w", path, err)
	}

	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	log = log.WithField("script", ensAddress)

	m := &module{vm: goja.New(), ens: ensAddress}

	if err := m.vm.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.String()
		}

		log.Info(strings.Join(args, " "))

		return goja.Undefined()
	}); err != nil {
		return nil, err
	}

	if _, err := m.vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("cannot evaluate script %s: %w", path, err)
	}

	return m.export()
}

// export reads the dispatchers and services defined by the script.
func (m *module) export() (*queue.Module, error) {
	vm := m.vm

	dv := vm.Get("dispatchers")
	if isEmpty(dv) {
		return nil, fmt.Errorf("%s: %w", m.ens, ErrNoDispatchers)
	}

	qm := &queue.Module{
		ENSAddress:  m.ens,
		Dispatchers: make(map[string]*queue.Dispatcher),
		Services:    make(map[string]interface{}),
	}

	if sv := vm.Get("services"); !isEmpty(sv) {
		so := sv.ToObject(vm)
		for _, name := range so.Keys() {
			qm.Services[name] = so.Get(name)
		}
	}

	do := dv.ToObject(vm)
	for _, name := range do.Keys() {
		d, err := m.dispatcher(name, do.Get(name))
		if err != nil {
			return nil, err
		}

		qm.Dispatchers[name] = d
	}

	return qm, nil
}

func (m *module) dispatcher(name string, v goja.Value) (*queue.Dispatcher, error) {
	vm := m.vm

	if isEmpty(v) {
		return nil, fmt.Errorf("%s/%s: %w", m.ens, name, ErrBadDispatcher)
	}

	o := v.ToObject(vm)
	d := &queue.Dispatcher{Name: name, I18N: map[string]map[string]string{}}

	if s := o.Get("serviceName"); !isEmpty(s) {
		d.ServiceName = s.String()
	}

	if i := o.Get("i18n"); !isEmpty(i) {
		io := i.ToObject(vm)
		for _, lang := range io.Keys() {
			keys := make(map[string]string)

			ko := io.Get(lang).ToObject(vm)
			for _, k := range ko.Keys() {
				keys[k] = ko.Get(k).String()
			}

			d.I18N[lang] = keys
		}
	}

	seq := o.Get("sequence")
	if isEmpty(seq) {
		return nil, fmt.Errorf("%s/%s has no sequence: %w", m.ens, name, ErrBadDispatcher)
	}

	so := seq.ToObject(vm)
	n := int(so.Get("length").ToInteger())

	for i := 0; i < n; i++ {
		sv := so.Get(fmt.Sprint(i))
		if isEmpty(sv) {
			return nil, fmt.Errorf("%s/%s step %d: %w", m.ens, name, i, ErrBadDispatcher)
		}

		step := sv.ToObject(vm)

		run, ok := goja.AssertFunction(step.Get("run"))
		if !ok {
			return nil, fmt.Errorf("%s/%s step %d has no run function: %w", m.ens, name, i, ErrBadDispatcher)
		}

		s := queue.Step{Name: fmt.Sprintf("step%d", i), Run: m.step(run)}
		if v := step.Get("name"); !isEmpty(v) {
			s.Name = v.String()
		}

		if v := step.Get("description"); !isEmpty(v) {
			s.Description = v.String()
		}

		d.Sequence = append(d.Sequence, s)
	}

	return d, nil
}

// step wraps a script function as a step. The function is interrupted when ctx is done.
func (m *module) step(run goja.Callable) queue.StepFunc {
	return func(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
		m.l.Lock()
		defer m.l.Unlock()

		vm := m.vm

		stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
		defer func() {
			stop()
			vm.ClearInterrupt()
		}()

		svc, ok := service.(goja.Value)
		if !ok {
			svc = goja.Undefined()
		}

		res, err := run(goja.Undefined(), vm.ToValue(view(e)), svc)
		if err != nil {
			return nil, stepError(ctx, err)
		}

		if p, ok := res.Export().(*goja.Promise); ok {
			switch p.State() {
			case goja.PromiseStateFulfilled:
				res = p.Result()
			case goja.PromiseStateRejected:
				return nil, errors.New(p.Result().String())
			default:
				return nil, ErrPending
			}
		}

		if isEmpty(res) {
			return nil, nil
		}

		return res.Export(), nil
	}
}

// view returns the entry as plain values for the script.
func view(e *queue.Entry) map[string]interface{} {
	data := make([]interface{}, len(e.Data))
	for i, p := range e.Data {
		data[i] = map[string]interface{}(p)
	}

	results := make([]interface{}, len(e.Results))
	copy(results, e.Results)

	return map[string]interface{}{
		"queueId": map[string]interface{}{
			"ensAddress": e.QueueID.ENSAddress,
			"dispatcher": e.QueueID.Dispatcher,
			"id":         e.QueueID.ID,
		},
		"data":    data,
		"status":  e.Status,
		"results": results,
	}
}

func stepError(ctx context.Context, err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return err
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return errors.New(ex.Value().String())
	}

	return err
}

func isEmpty(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
