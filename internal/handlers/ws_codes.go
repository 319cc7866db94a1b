package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes, giving clients a more specific closure
// reason than the standard set.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // unsupported subprotocol
	InvalidAuthTokenError websocket.StatusCode = 3001 // auth token invalid or expired
	InvalidMatchIDError   websocket.StatusCode = 3002 // match id malformed or not live
	JoinRejectedError     websocket.StatusCode = 3003 // lobby refused the join (full, started, duplicate)
)
