package wsconn

import "time"

// closeControlTimeout bounds how long we wait to flush a close control
// frame onto a gorilla/websocket connection before giving up.
const closeControlTimeout = 2 * time.Second

func deadlineNow() time.Time { return time.Now().Add(closeControlTimeout) }
