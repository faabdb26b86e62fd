// Package websocket streams upload progress to browser clients. Every
// connection registers with the Hub, which subscribes it to the progress
// broadcaster as one observer.
package websocket
