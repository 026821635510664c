// Package batch runs queued table requests with bounded concurrency.
//
// A Scheduler owns a FIFO queue of queries. RunAll takes everything queued so
// far and admits it in enqueue order, never holding more than Concurrency
// requests in flight. Each completion is classified on the goroutine that
// issued it, and the query's OnSuccess handler runs there on success.
//
// Example usage:
//
//	s := batch.New(sender, batch.DefaultConfig())
//	s.Enqueue(batch.Query{Descriptor: desc, OnSuccess: func(body []byte) { ... }})
//	if err := s.RunAll(ctx); err != nil {
//		// *response.SymbolNotFoundError, *response.ProtocolError or
//		// *response.TransportError
//	}
//
// Failure handling depends on Policy:
//   - PolicyFailFast stops admitting queued requests at the first failure,
//     cancels the requests still in flight and returns that failure
//   - PolicyDrain runs every request and returns all failures combined
//     (see multierr.Errors)
package batch
