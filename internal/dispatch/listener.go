package dispatch

import (
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/route"
)

// Listener receives dispatch results for the presentation layer.
//
// Callbacks are invoked from the dispatcher goroutine, one at a time.
// Embed NopListener to implement only the callbacks you need.
//
// DownloadError carries the error code and, for rejected fleet
// descriptors, the validation sub-code as reason ("" otherwise).
type Listener interface {
	RouteChanged(r route.Route)
	MachineReady(m *model.Machine)
	DownloadProgress(status string, percent int)
	DownloadError(code model.Code, reason string)
	ImportRequested(url string)
	FleetReady(name string, count int)
}

// NopListener ignores every callback.
type NopListener struct{}

func (NopListener) RouteChanged(route.Route)         {}
func (NopListener) MachineReady(*model.Machine)      {}
func (NopListener) DownloadProgress(string, int)     {}
func (NopListener) DownloadError(model.Code, string) {}
func (NopListener) ImportRequested(string)           {}
func (NopListener) FleetReady(string, int)           {}

var _ Listener = NopListener{}

// Listeners fans each callback out to every listener in order.
type Listeners []Listener

var _ Listener = Listeners(nil)

func (ls Listeners) RouteChanged(r route.Route) {
	for _, l := range ls {
		l.RouteChanged(r)
	}
}

func (ls Listeners) MachineReady(m *model.Machine) {
	for _, l := range ls {
		l.MachineReady(m)
	}
}

func (ls Listeners) DownloadProgress(status string, percent int) {
	for _, l := range ls {
		l.DownloadProgress(status, percent)
	}
}

func (ls Listeners) DownloadError(code model.Code, reason string) {
	for _, l := range ls {
		l.DownloadError(code, reason)
	}
}

func (ls Listeners) ImportRequested(url string) {
	for _, l := range ls {
		l.ImportRequested(url)
	}
}

func (ls Listeners) FleetReady(name string, count int) {
	for _, l := range ls {
		l.FleetReady(name, count)
	}
}
