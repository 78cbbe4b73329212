// Package bus implements a synchronous publish/subscribe mechanism whose
// event names are restricted to a closed vocabulary.
//
// Every stateful entity owns one or more buses: a state bus whose vocabulary
// is the entity's states plus "error", and relay buses such as the inbound
// "message" bus of a connection or channel. Keeping them separate avoids
// vocabulary collisions between state names and relay events.
//
// Subscribing, publishing or unsubscribing a name outside the vocabulary
// always fails with ErrInvalidEvent.
package bus
