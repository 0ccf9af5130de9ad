package listener

import (
	"encoding/json"

	"sizero-service/event"
	"sizero-service/logging"
	"sizero-service/socketio"
)

var (
	BackofficeChannel = make(chan event.EventChannelData)
)

type announceData struct {
	Text string `json:"text"`
}

// Backoffice consumes commands published by the backoffice service. The only
// action handled today is "announce", pushed to every connected socket.
func Backoffice() {
	for ev := range BackofficeChannel {
		switch ev.Action {
		case "announce":
			data := announceData{}
			if err := json.Unmarshal(ev.Data, &data); err != nil || data.Text == "" {
				logging.Log.Warn().Str("action", ev.Action).Msg("malformed announce event")
				continue
			}
			socketio.Broadcast("announce", data)
		default:
			logging.Log.Debug().Str("action", ev.Action).Msg("unhandled backoffice event")
		}
	}
}
