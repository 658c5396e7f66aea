package httpx

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// IsUpgrade reports whether r asks to switch the connection to a persistent
// protocol (WebSocket or any other Connection: upgrade handshake).
func IsUpgrade(r *http.Request) bool {
	if websocket.IsWebSocketUpgrade(r) {
		return true
	}
	for _, v := range r.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}
