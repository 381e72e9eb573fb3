/*
Package tinysse implements a programmable Server-Sent Events broker: it
accepts HTTP publish requests, fans their messages out to every connected
subscriber as an SSE stream, and interposes a Lua script (see the script
subpackage) at each lifecycle event so the script can inspect, mutate,
filter or synthesize messages.


Server-Sent Events

For background on the wire format itself:
https://html.spec.whatwg.org/multipage/server-sent-events.html


Publish and subscribe

A Broker exposes two HTTP endpoints, by default both at /sse:

	POST /sse   publish a message
	GET  /sse   subscribe to the live stream

Publishing accepts application/json or application/x-www-form-urlencoded
bodies with id/event/data/comment fields; at least one must be set.
Subscribing opens a long-lived text/event-stream response, beginning with a
": ok" hello comment, optionally followed by a Last-Event-ID catch-up
replay, then live frames as messages are published.


Hooks

Every lifecycle event (startup, tick, publish, subscribe, catchup, message,
unsubscribe, timeout) is routed through a HookPipeline. With no script
configured, DefaultPipeline accepts everything unchanged.
*/
package tinysse
