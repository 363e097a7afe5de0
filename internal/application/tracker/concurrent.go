package tracker

// concurrent.go — worker pool para evaluar señales en paralelo.
//
// El límite de fetches simultáneos contra upstream lo impone el retriever;
// aquí solo se acota cuántas señales avanzan a la vez. Cada worker toma la
// sección exclusiva de una señal, así que la señal A nunca bloquea a la B.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// forEachSignal ejecuta fn para cada dirección y devuelve los resultados
// (sin orden garantizado). Si workers <= 0 usa runtime.NumCPU() × 2.
func forEachSignal[R any](ctx context.Context, addresses []string, workers int, fn func(ctx context.Context, address string) R) []R {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(addresses) {
		workers = len(addresses)
	}

	workCh := make(chan string, len(addresses))
	resultCh := make(chan R, len(addresses))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range workCh {
				if ctx.Err() != nil {
					continue
				}
				resultCh <- fn(ctx, addr)
			}
		}()
	}

	for _, addr := range addresses {
		workCh <- addr
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]R, 0, len(addresses))
	for r := range resultCh {
		results = append(results, r)
	}

	slog.Debug("tracker: concurrent pass complete",
		"signals", len(addresses),
		"results", len(results),
		"workers", workers,
	)
	return results
}
