package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/entrhq/toolbelt/pkg/tools"
)

// wsRequest is one invocation sent over the socket. ID is echoed back.
type wsRequest struct {
	ID   string                 `json:"id,omitempty"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type wsResponse struct {
	ID     string        `json:"id,omitempty"`
	Result *tools.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// serveWS serves invocations one at a time until the client closes the
// connection.
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: h.origins.allow}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := withOrigin(r)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		var resp wsResponse
		switch err := json.Unmarshal(data, &req); {
		case err != nil:
			resp.Error = "message must be a JSON object with tool and args"
		case req.Tool == "":
			resp.ID = req.ID
			resp.Error = "tool is required"
		default:
			resp.ID = req.ID
			resp.Result = h.dispatcher.Dispatch(ctx, tools.Invocation{Tool: req.Tool, Args: req.Args})
		}

		out, err := json.Marshal(resp)
		if err != nil {
			h.logger.Errorf("websocket encode failed: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}
