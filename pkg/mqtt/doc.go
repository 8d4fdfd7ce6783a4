// Package mqtt wraps Eclipse Paho v2's [autopaho] connection manager for
// the three broker users in this repository: the simulator's status sink,
// the dashboard's background listener and the smoke test.
//
// Connections reconnect automatically. Topic filters passed to
// [Client.Subscribe] are remembered and re-subscribed on every reconnect,
// so a dashboard keeps receiving retained container status after a broker
// restart. TLS is enabled when the configuration asks for it, which turns
// the broker URL scheme into mqtts://.
package mqtt
