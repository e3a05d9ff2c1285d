// Package exchange is the transport collaborator: it moves signed
// envelopes between processes. Outbound events are queued per recipient
// and fanned out as one bundle per peer; inbound bundles are verified
// through the ordering service and parked for the caller to poll. The
// module gives no delivery guarantees; every envelope authenticates
// itself regardless of who carried it.
package exchange
