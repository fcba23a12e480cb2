// Package sessions tracks authenticated sessions bound to a (user, tenant)
// pair.
//
// A session moves through created, active, then expired or terminated. Only
// active sessions accept Touch, which extends the expiry by the idle
// timeout. Terminal states never change again.
//
// SweepExpired compares the expiry in the same statement that commits the
// transition, so a session touched while a sweep is running stays active.
package sessions
