// Package admin exposes the broker's JSON status/report endpoint.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/tinysse/tinysse"
)

// Handler serves BrokerStatus as JSON at status.json under the mounted
// prefix. There is no bundled HTML dashboard: the JSON status document is
// the whole surface.
func Handler(b *tinysse.Broker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(b.Status())
	})
	return mux
}
