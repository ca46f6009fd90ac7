package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"
)

const updateBuffer = 512

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater serializes all counter writes through a single channel so
// hot paths (room loops, client pumps) never contend on a lock. Counters
// must be registered before Run; an unknown name is logged and dropped.
type StatsUpdater struct {
	vars    *expvar.Map
	updates chan delta
	log     *zap.Logger
}

type delta struct {
	name string
	n    int64
}

func NewStatsUpdater(mux *http.ServeMux, log *zap.Logger) *StatsUpdater {
	su := &StatsUpdater{
		updates: make(chan delta, updateBuffer),
		log:     log,
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap("chatrealm-stats")
	su.initGauges()

	return su
}

// initGauges registers the always-on health gauges alongside the
// registered counters.
func (su *StatsUpdater) initGauges() {
	start := time.Now()
	su.vars.Set("UptimeSeconds", expvar.Func(func() any {
		return int64(time.Since(start).Seconds())
	}))
	su.vars.Set("Goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		if err := json.Unmarshal([]byte(kv.Value.String()), &value); err != nil {
			return
		}
		out[kv.Key] = value
	})

	if err := json.NewEncoder(w).Encode(out); err != nil {
		su.log.Error("encode stats", zap.Error(err))
	}
}

func (su *StatsUpdater) apply() {
	for d := range su.updates {
		v := su.vars.Get(d.name)
		if v == nil {
			su.log.Error("unknown metric", zap.String("name", d.name))
			continue
		}
		v.(*expvar.Int).Add(d.n)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.updates <- delta{name: name, n: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updates <- delta{name: name, n: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

func (su *StatsUpdater) Stop() {
	close(su.updates)
}
