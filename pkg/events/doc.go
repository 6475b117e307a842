/*
Package events distributes keystore change notifications.

Services publish an Event whenever administrative state changes: a credential
store or the gateway keystore is created, a certificate is written, an alias is
created or deleted, or a cached store is reloaded after an external change.
Subscribers (the `gatekeeper start` command logs them) receive events on a
buffered channel.

Publish never blocks. Events are advisory: when the queue or a subscriber's
buffer is full the event is dropped rather than delaying the write that
produced it. Events carry cluster and alias names only, never values.
*/
package events
