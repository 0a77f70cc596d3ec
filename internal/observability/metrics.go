package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	pipelineMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Inbound messages by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)
	sessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a recoverable close.",
		},
	)
	invitesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "contact",
			Name:      "invites_sent_total",
			Help:      "First-contact invitations sent.",
		},
	)
	spamWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "pipeline",
			Name:      "spam_warnings_total",
			Help:      "Warning replies sent to flooding conversations.",
		},
	)
	pluginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "plugins",
			Name:      "handler_failures_total",
			Help:      "Plugin handler errors and panics, by handler name.",
		},
		[]string{"handler"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			pipelineMessages,
			sessionReconnects,
			invitesSent,
			spamWarnings,
			pluginFailures,
		)
	})
}

func RecordPipelineMessage(stage, outcome string) {
	RegisterMetrics()
	pipelineMessages.WithLabelValues(stage, outcome).Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	sessionReconnects.Inc()
}

func RecordInviteSent() {
	RegisterMetrics()
	invitesSent.Inc()
}

func RecordSpamWarning() {
	RegisterMetrics()
	spamWarnings.Inc()
}

func RecordPluginFailure(handler string) {
	RegisterMetrics()
	pluginFailures.WithLabelValues(handler).Inc()
}

// ServeMetrics exposes /metrics until ctx is done. A blank addr disables it.
func ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
