// Package state provides the finite-state machinery shared by every stateful
// entity.
//
// An entity embeds an *Emitter parameterised by its own state type. The
// emitter owns the current value, makes TransitionTo the only way to change
// it, and publishes each change on a state bus so that callers can observe
// transitions or wait for a particular state with OnceOrIf and WaitFor.
//
// Predicates such as "IsConnected" are derived once per state set by the enum
// package and evaluated with Check.
package state
