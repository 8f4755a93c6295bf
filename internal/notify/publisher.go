// Package notify publishes dispatcher results as JSON events on NATS.
//
// Subjects are "<prefix>.<event>", for example "fleetsync.machine_ready".
package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/route"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "fleetsync"

// Event names, used as the last subject token.
const (
	EventRouteChanged     = "route_changed"
	EventMachineReady     = "machine_ready"
	EventDownloadProgress = "download_progress"
	EventDownloadError    = "download_error"
	EventImportRequested  = "import_requested"
	EventFleetReady       = "fleet_ready"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	Event   string         `json:"event"`
	Time    time.Time      `json:"time"`
	Route   *route.Route   `json:"route,omitempty"`
	Machine *model.Machine `json:"machine,omitempty"`
	Status  string         `json:"status,omitempty"`
	Percent *int           `json:"percent,omitempty"`
	Code    model.Code     `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	URL     string         `json:"url,omitempty"`
	Fleet   string         `json:"fleet,omitempty"`
	Count   *int           `json:"count,omitempty"`
}

// Publisher implements dispatch.Listener over NATS. Publish failures are
// logged and never interrupt dispatching.
type Publisher struct {
	conn   Conn
	prefix string
	now    func() time.Time
}

var _ dispatch.Listener = (*Publisher)(nil)

// New creates a Publisher. An empty prefix selects DefaultSubjectPrefix.
func New(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, now: time.Now}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("fleetsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	return nats.Connect(url, opts...)
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(event string) string {
	return p.prefix + "." + event
}

func (p *Publisher) publish(env Envelope) {
	env.Time = p.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		slog.Warn("encode event failed", "event", env.Event, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(env.Event), data); err != nil {
		slog.Warn("publish event failed", "subject", p.Subject(env.Event), "error", err)
	}
}

func (p *Publisher) RouteChanged(r route.Route) {
	p.publish(Envelope{Event: EventRouteChanged, Route: &r})
}

func (p *Publisher) MachineReady(m *model.Machine) {
	p.publish(Envelope{Event: EventMachineReady, Machine: m})
}

func (p *Publisher) DownloadProgress(status string, percent int) {
	p.publish(Envelope{Event: EventDownloadProgress, Status: status, Percent: &percent})
}

func (p *Publisher) DownloadError(code model.Code, reason string) {
	p.publish(Envelope{Event: EventDownloadError, Code: code, Reason: reason})
}

func (p *Publisher) ImportRequested(url string) {
	p.publish(Envelope{Event: EventImportRequested, URL: url})
}

func (p *Publisher) FleetReady(name string, count int) {
	p.publish(Envelope{Event: EventFleetReady, Fleet: name, Count: &count})
}
