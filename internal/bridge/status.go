package bridge

// status tracks where the host and the gamemode client stand relative to
// each other. The flags move independently: the transport can hold a live
// connection before the client has started, and the game can be inside a
// mode before any client attaches.
type status struct {
	// clientConnected mirrors a live transport session. It briefly lags
	// the transport when a dead stream has not been reconciled yet.
	clientConnected bool
	// clientStarted is set once the client has sent its start request.
	clientStarted bool
	// clientReceivedInit is set once the client has been handed the mode
	// init event, either the real one or a synthesized one.
	clientReceivedInit bool
	// serverReceivedInit is set while the game is inside a mode, between
	// the init and exit events.
	serverReceivedInit bool
	// clientReconnecting marks a disconnect requested by the client, so
	// the next attach resumes the session instead of starting fresh.
	clientReconnecting bool
}
