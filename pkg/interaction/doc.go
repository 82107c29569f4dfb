// Package interaction turns register reads and writes into request frames
// and matches the responses.
//
// # Client
//
// The Client implements model.Accessor over any transport.Link:
//
//	client, err := interaction.NewClient(link, interaction.DefaultClientConfig())
//	data, err := client.Read(ctx, 0x40004, 4)
//	err = client.Write(ctx, 0x41000, []byte{0x00, 0x80, 0, 0})
//
// Each transmission attempt gets a fresh correlation id, so responses may
// arrive in any order and a late response to an abandoned attempt is
// discarded. A response with a bad checksum counts as no response. After
// Timeout the attempt is retried, with backoff, up to MaxAttempts; then
// the caller gets a *RequestError matching ErrRequestFailed. A non-zero
// peer status is returned at once as a *BusError.
//
// The pending table is owned by one goroutine. Callers register, send on
// their own goroutine and wait; the link handler only queues raw responses.
//
// # Priority
//
// Requests marked with WithPriority(ctx, PriorityBackground) (the poller
// uses this) take a one-slot background token before joining the in-flight
// queue. Admission to the in-flight limit is first come first served, so an
// interactive request never waits behind more than one background request.
//
// # Server
//
// The Server is the peer side: it executes request frames against a
// model.Accessor, typically an emulated memory, and replies with a status.
package interaction
