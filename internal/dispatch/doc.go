// Package dispatch fans an origin's batch of messages out to the devices
// listening on it.
//
// A dispatch runs in a fixed order:
//
//  1. Verify the origin's signature (Verifier, AcceptAll by default)
//  2. Charge len(messages) against the origin's rate ceiling
//  3. Resolve the requested tokens to listening devices
//  4. Deliver every matching message to every device through the broker
//  5. Record attempted message counts with the statistics aggregator
//
// Steps 1 and 2 fail the whole request. Delivery failures in step 4 never
// do: each one is recorded as an error string in the Result and the
// remaining deliveries continue. Devices are processed concurrently up to
// a configured limit; the messages for one device are sent in order.
package dispatch
