// Package delivery reconciles provider callbacks against send logs.
//
// Providers report delivery progress out of order and more than once, so a
// send log's status only moves forward: pending < sent < delivered < opened.
// Failure outcomes (failed, bounced, complained) override any non-terminal
// status and are never overwritten. Status writes are compare-and-swap on the
// status that was read.
//
// Some events also act on the customer: bounces and complaints opt the
// address out of email, STOP replies revoke SMS consent, and clicks mark the
// enrollment as reviewed. Each of those stops the active enrollment.
package delivery
