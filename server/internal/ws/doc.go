// Package ws streams the quality snapshot to browsers over WebSocket
// (gorilla/websocket). The server mounts Hub at /ws/stream.
//
// Every message has the form
//
//	{"event": "snapshot", "data": { /* GET /api/v1/snapshot schema */ }}
//
// A snapshot is sent as soon as a client connects and then on every tick of
// Hub.Run. Clients that pass ?session=<id> receive only that session and
// its alerts. Clients whose send buffer fills up are disconnected.
package ws
