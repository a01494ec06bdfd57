package fedsim

// FlopTime is the modeled time to perform a single floating-point
// operation, in seconds.
const FlopTime = 1e-9

// A CostModel estimates the wall-clock cost of simulated rounds on a
// star topology: every client talks to the server over its own link.
type CostModel struct {
	// Latency is the one-way link latency in seconds.
	Latency float64

	// Rate is the link throughput in bytes per second.
	Rate float64
}

// RoundTime estimates the duration of one round with the given number
// of participants and model elements (float64 values per model copy).
//
// Clients run in parallel, so the transfer cost is one broadcast plus
// one delta upload over the slowest link, and the server then folds
// the deltas in sequentially.
func (c *CostModel) RoundTime(participants, modelElems int) float64 {
	bytes := 8 * float64(modelElems)
	transfer := 2 * (c.Latency + bytes/c.Rate)
	reduce := FlopTime * float64(participants*modelElems)
	return transfer + reduce
}
