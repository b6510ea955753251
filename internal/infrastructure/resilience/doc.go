/*
Package resilience provides the circuit breaker guarding best-effort
dependencies such as the type information worker.

A breaker starts closed. After ReadyToTrip reports too many failures it
opens and rejects every request with ErrCircuitOpen until Timeout passes,
then lets MaxRequests trial requests through in the half-open state. Requests
abandoned through context cancellation are not counted.

	breaker := resilience.New("typeinfo", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	reply, err := resilience.Call(ctx, breaker, func(ctx context.Context) (Reply, error) {
		return worker.Query(ctx, req)
	})

States:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
