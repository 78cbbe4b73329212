// Package protocol defines the frames exchanged with the realtime service and
// the entries nested inside them.
//
// A ProtocolMessage carries an Action from the closed Actions set. Messages
// and presence entries keep a back-reference to the frame that carried them,
// which is how an entry without an explicit id or timestamp derives one:
// "{frame id}:{index}" and the frame's timestamp respectively. Querying a
// derived field before the entry has been associated with a frame fails with
// ErrUnassociated.
//
// Frames are encoded as JSON with numeric action codes; the code of an action
// is its position in Actions.
package protocol
