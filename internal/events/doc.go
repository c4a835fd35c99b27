// Package events provides the typed observer used for credential and site
// change notifications.
//
// Components own an Emitter and expose its On method; the composition root
// (internal/app) performs the cross-component registrations, for example
// subscribing the site registry to credential removals.
package events
