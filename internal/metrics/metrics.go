package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	EventsReceived     atomic.Int64
	EventsApplied      atomic.Int64
	EventsDuplicate    atomic.Int64
	EventsDecodeReject atomic.Int64
	EventsRetried      atomic.Int64
	TripsOpened        atomic.Int64
	TripsClosed        atomic.Int64
	EventChannelDrops  atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "trips_events_received_total %d\n", EventsReceived.Load())
	fmt.Fprintf(w, "trips_events_applied_total %d\n", EventsApplied.Load())
	fmt.Fprintf(w, "trips_events_duplicate_total %d\n", EventsDuplicate.Load())
	fmt.Fprintf(w, "trips_events_decode_reject_total %d\n", EventsDecodeReject.Load())
	fmt.Fprintf(w, "trips_events_retried_total %d\n", EventsRetried.Load())
	fmt.Fprintf(w, "trips_opened_total %d\n", TripsOpened.Load())
	fmt.Fprintf(w, "trips_closed_total %d\n", TripsClosed.Load())
	fmt.Fprintf(w, "trips_event_channel_drops_total %d\n", EventChannelDrops.Load())
}
