package pool

import "github.com/gridsync/gridsync/sim"

func init() {
	sim.NewPassRunnerFunc = func(threads, minItemsPerThread int) sim.PassRunner {
		return New(threads, minItemsPerThread)
	}
}
