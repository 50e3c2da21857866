package queue

import (
	"context"
	"sync"
)

// FinishFunc is called when an entry matching the subscription finished all its steps. It is also called once with
// the subscription pattern and nil results when registered.
type FinishFunc func(id ID, results []interface{})

type subscription struct {
	n       uint64
	pattern ID
	cb      FinishFunc
}

// Runtime holds the state shared by the queues of a process: loaded modules, finish subscribers and the
// translations registered by dispatchers.
type Runtime struct {
	loader Loader

	ml      sync.Mutex
	modules map[string]*Module

	sl   sync.Mutex
	subs []subscription
	next uint64

	tl   sync.RWMutex
	i18n map[string]map[string]string // language -> key -> text
}

// NewRuntime returns a runtime resolving modules through loader.
func NewRuntime(loader Loader) *Runtime {
	return &Runtime{
		loader:  loader,
		modules: make(map[string]*Module),
		i18n:    make(map[string]map[string]string),
	}
}

// module returns the cached module of ensAddress, loading it on first use.
func (r *Runtime) module(ctx context.Context, ensAddress string) (*Module, error) {
	r.ml.Lock()
	defer r.ml.Unlock()

	if m, ok := r.modules[ensAddress]; ok {
		return m, nil
	}

	m, err := r.loader.Load(ctx, ensAddress)
	if err != nil {
		return nil, err
	}

	r.modules[ensAddress] = m

	return m, nil
}

// Forget drops the cached module of ensAddress so it is loaded again on next use.
func (r *Runtime) Forget(ensAddress string) {
	r.ml.Lock()
	delete(r.modules, ensAddress)
	r.ml.Unlock()
}

func (r *Runtime) subscribe(pattern ID, cb FinishFunc) func() {
	r.sl.Lock()
	r.next++
	n := r.next
	r.subs = append(r.subs, subscription{n: n, pattern: pattern, cb: cb})
	r.sl.Unlock()

	return func() {
		r.sl.Lock()
		defer r.sl.Unlock()

		for i, s := range r.subs {
			if s.n == n {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)

				return
			}
		}
	}
}

// subscribers returns the callbacks whose pattern matches id.
func (r *Runtime) subscribers(id ID) []FinishFunc {
	r.sl.Lock()
	defer r.sl.Unlock()

	cbs := make([]FinishFunc, 0, len(r.subs))

	for _, s := range r.subs {
		if s.pattern.Matches(id) {
			cbs = append(cbs, s.cb)
		}
	}

	return cbs
}

func (r *Runtime) addTranslations(i18n map[string]map[string]string) {
	r.tl.Lock()
	defer r.tl.Unlock()

	for lang, keys := range i18n {
		if r.i18n[lang] == nil {
			r.i18n[lang] = make(map[string]string)
		}

		for k, v := range keys {
			r.i18n[lang][k] = v
		}
	}
}

// Translate returns the text registered for key in lang, falling back to English and then to the key itself.
func (r *Runtime) Translate(lang, key string) string {
	r.tl.RLock()
	defer r.tl.RUnlock()

	if v, ok := r.i18n[lang][key]; ok {
		return v
	}

	if v, ok := r.i18n["en"][key]; ok {
		return v
	}

	return key
}
