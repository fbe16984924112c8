package updater

// Reporter publishes updater events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	r.ch <- e
}

// NopReporter discards events.
type NopReporter struct{}

func (NopReporter) Report(Event) {}

// Tee fans an event out to several reporters in order.
type Tee []Reporter

func (t Tee) Report(e Event) {
	for _, r := range t {
		if r != nil {
			r.Report(e)
		}
	}
}
