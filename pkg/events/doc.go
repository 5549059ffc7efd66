/*
Package events provides an in-memory event broker for Flanes's
lifecycle hooks.

spec.md §8 names lifecycle hooks as one of three small capability sets
(alongside evaluators and remote-storage adapters) the repository core
is polymorphic over, with the shape "notify-event-with-context": a hook
is handed an event type, the lane/workspace it concerns, and free-form
context, not a concrete struct tied to one caller. This package
implements that capability as a fan-out broker, the same non-blocking
pub/sub shape Warren used for cluster notifications, retargeted at the
transition/lane/budget/GC lifecycle Flanes's repository core raises.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			log.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type: events.TransitionAccepted,
		Lane: "main",
		Context: map[string]string{"transition_id": t.ID},
	})

# Design

Publish is non-blocking and best-effort: a repository-core operation
must never stall because a hook's subscriber channel is full or because
no broker was started. This mirrors spec.md §1's framing of hooks as an
external collaborator the core notifies, not a participant whose
failure or slowness can affect the core's own atomicity guarantees.
*/
package events
