// Package pagination walks cursor- and link-paginated APIs one page at a time.
//
// An Engine composes a descriptor (how to build the next request), an
// Executor (retrying transport) and a Delayer (throttle controller) into a
// single forward-only loop exposed as an iterator:
//
//	engine := pagination.New(desc, retrying, controller, pagination.DefaultConfig(), logger)
//	for page, err := range engine.Pages(ctx) {
//		if err != nil {
//			return err
//		}
//		process(page.Batch)
//	}
//
// The engine:
//   - Sends the first request without a continuation token
//   - Derives every following request from the immediately preceding response
//   - Pauses between pages according to the throttle controller
//   - Skips pages whose items cannot be extracted (Page.Skipped)
//   - Stops on transport failure, stalled continuation or MaxPages
//
// Pages are fetched lazily and requests are strictly sequential within one
// engine. Independent engines can be run side by side with BatchRunner.
package pagination
