// Package courier implements the outgoing message pipeline of an
// end-to-end encrypted messenger: conversation receivers, a durable
// single-flight task queue, and forward-secure per-peer sessions.
//
// The package is the composition root. It wires the key material, the
// nonce factory, the session store, the message store, the task manager
// and the event bus together in dependency order; everything else in the
// module is constructed from explicit dependencies and never reaches for
// shared state.
//
// Example:
//
//	options := courier.NewOptions()
//	options.DataDir = "/var/lib/courier"
//	options.Connection = conn // the caller's server connection
//
//	c, err := courier.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
//	r := c.ContactReceiver("ECHOECHO")
//	msg := r.CreateLocalModel(message.TypeText, message.ContentsTypeText, time.Now())
//	if err := r.CreateAndSendTextMessage(msg, "hello"); err != nil {
//	    log.Fatal(err)
//	}
package courier
