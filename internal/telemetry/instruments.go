package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Bridge instruments. Built lazily against whatever meter provider Init
// installed, so call sites never need to check Enabled.
var (
	instrOnce sync.Once

	sessionsActive metric.Int64UpDownCounter
	linesInbound   metric.Int64Counter
	linesFannedOut metric.Int64Counter
	disconnects    metric.Int64Counter
)

func instruments() {
	instrOnce.Do(func() {
		m := Meter("")
		sessionsActive, _ = m.Int64UpDownCounter("ammbridge.sessions.active",
			metric.WithDescription("connected TCP client sessions"))
		linesInbound, _ = m.Int64Counter("ammbridge.lines.inbound",
			metric.WithDescription("protocol lines received from clients"))
		linesFannedOut, _ = m.Int64Counter("ammbridge.lines.fanout",
			metric.WithDescription("protocol lines written to clients"))
		disconnects, _ = m.Int64Counter("ammbridge.sessions.disconnects",
			metric.WithDescription("client sessions closed"))
	})
}

// SessionOpened increments the active-session gauge.
func SessionOpened(ctx context.Context) {
	instruments()
	sessionsActive.Add(ctx, 1)
}

// SessionClosed decrements the active-session gauge and counts the
// disconnect.
func SessionClosed(ctx context.Context) {
	instruments()
	sessionsActive.Add(ctx, -1)
	disconnects.Add(ctx, 1)
}

// LineInbound counts one processed inbound line.
func LineInbound(ctx context.Context) {
	instruments()
	linesInbound.Add(ctx, 1)
}

// LinesFannedOut counts lines delivered to client sessions.
func LinesFannedOut(ctx context.Context, n int64) {
	instruments()
	linesFannedOut.Add(ctx, n)
}
