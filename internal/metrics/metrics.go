package metrics

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/workload"
)

var (
	registry = prometheus.NewRegistry()

	workloadStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procdock",
		Name:      "workload_status",
		Help:      "Current status of each workload (1 for the active state, 0 otherwise).",
	}, []string{"id", "workload", "state"})

	workloadStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procdock",
		Name:      "workload_starts_total",
		Help:      "Total number of start attempts per workload.",
	}, []string{"id", "workload"})

	workloadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procdock",
		Name:      "workload_errors_total",
		Help:      "Error transitions and error-marked log lines per workload.",
	}, []string{"id", "workload"})

	logLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procdock",
		Name:      "log_lines_total",
		Help:      "Log lines appended per workload and stream.",
	}, []string{"id", "workload", "stream"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procdock",
		Name:      "build_info",
		Help:      "Build metadata for the running procdock binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once

	states = []workload.State{
		workload.StateStopped,
		workload.StateStarting,
		workload.StateRunning,
		workload.StateStopping,
		workload.StateError,
	}
)

func init() {
	registry.MustRegister(workloadStatus, workloadStarts, workloadErrors, logLines, buildInfo)
}

// Registry returns the Prometheus registry containing all procdock metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetStatus records st as the active state of a workload.
func SetStatus(id, name string, st workload.State) {
	if id == "" {
		return
	}
	for _, candidate := range states {
		value := 0.0
		if candidate == st {
			value = 1.0
		}
		workloadStatus.WithLabelValues(id, name, strings.ToLower(candidate.String())).Set(value)
	}
}

// IncrementStarts counts a start attempt.
func IncrementStarts(id, name string) {
	if id == "" {
		return
	}
	workloadStarts.WithLabelValues(id, name).Inc()
}

// IncrementErrors counts an error transition or alarming log line.
func IncrementErrors(id, name string) {
	if id == "" {
		return
	}
	workloadErrors.WithLabelValues(id, name).Inc()
}

// ObserveLogLine counts an appended log line.
func ObserveLogLine(id, name, line string) {
	if id == "" {
		return
	}
	stream := "stdout"
	if strings.HasPrefix(line, workload.StderrTag) {
		stream = "stderr"
	}
	logLines.WithLabelValues(id, name, stream).Inc()
}

// Attach keeps the workload metrics in sync with mgr's event bus until the
// returned function is called. Series of removed workloads are deleted.
func Attach(mgr *engine.Manager) context.CancelFunc {
	for _, snap := range mgr.List() {
		SetStatus(snap.Config.ID, snap.Config.DisplayName(), snap.Status.State)
	}

	// Log events are delivered independently of status events, so lines
	// trailing a removal are dropped instead of recreating its series.
	var (
		mu      sync.Mutex
		removed = make(map[string]struct{})
	)
	isRemoved := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := removed[id]
		return ok
	}

	stopStatus := mgr.OnStatus(func(ev engine.StatusEvent) {
		mu.Lock()
		if ev.Removed {
			removed[ev.ID] = struct{}{}
		} else {
			delete(removed, ev.ID)
		}
		mu.Unlock()
		if ev.Removed {
			ResetWorkload(ev.ID, ev.Name)
			return
		}

		SetStatus(ev.ID, ev.Name, ev.To.State)
		switch ev.To.State {
		case workload.StateStarting:
			IncrementStarts(ev.ID, ev.Name)
		case workload.StateError:
			IncrementErrors(ev.ID, ev.Name)
		}
	})
	stopLog := mgr.OnLog(func(ev engine.LogEvent) {
		if isRemoved(ev.ID) {
			return
		}
		ObserveLogLine(ev.ID, ev.Name, ev.Line)
		if ev.Alarming {
			IncrementErrors(ev.ID, ev.Name)
		}
	})
	return func() {
		stopStatus()
		stopLog()
	}
}

// ResetWorkload drops every series of a removed workload.
func ResetWorkload(id, name string) {
	if id == "" {
		return
	}
	for _, st := range states {
		workloadStatus.DeleteLabelValues(id, name, strings.ToLower(st.String()))
	}
	workloadStarts.DeleteLabelValues(id, name)
	workloadErrors.DeleteLabelValues(id, name)
	logLines.DeleteLabelValues(id, name, "stdout")
	logLines.DeleteLabelValues(id, name, "stderr")
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
