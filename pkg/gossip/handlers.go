package gossip

import (
	"encoding/json"
	"net/http"
)

// Healthz returns 200 OK to indicate the node process is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ServeSnapshot writes the current consensus status as JSON. Read-only:
// serving a snapshot has no side effects on the engine.
func (n *Node) ServeSnapshot(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(n.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
