package ports

import "net/http"

// HTTPClient performs the requests of the delivery client: session start,
// batch ingest, late ingest and archive upload. Tests and hosts that proxy
// traffic substitute their own; *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
