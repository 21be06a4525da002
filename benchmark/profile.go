package benchmark

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/fogfactory/datapumps"
	"github.com/samber/lo"
)

// Profile generates a profile file of a group pumping items through a chain of pumps. It will be outputted as
// datapumps_{date}_in{items}_{concurrencies}.prof.
//
// - items Number of items pushed in the first pump.
// - concurrencies Concurrency of each pump. Its length is also the length of the chain.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(items int, concurrencies ...int) {
	// Profile file
	f, err := os.Create(fmt.Sprintf("datapumps_%s_in%d_%s.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		items,
		strings.Join(lo.Map(concurrencies, func(item, _ int) string { return fmt.Sprint(item) }), "-")))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Init group
	group, err := datapumps.NewGroup(datapumps.WithID("bench"))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer group.Release()

	dumbProc := func(ctx context.Context, data any, p *datapumps.Pump) error {
		time.Sleep(time.Millisecond)
		return p.CopyData(ctx, data)
	}
	source := group.CreateBuffer(datapumps.WithContent(lo.ToAnySlice(lo.Range(items))...))
	_ = source.Seal()
	input := source
	for i, concurrency := range concurrencies {
		pump := datapumps.NewPump(datapumps.WithFrom(input), datapumps.WithConcurrency(concurrency), datapumps.WithProcess(dumbProc))
		if _, err := group.AddPump(fmt.Sprintf("pump%d", i), pump); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		input, _ = pump.Buffer("output")
	}
	last := input

	// minimal duration of the same work done sequentially
	totalCall := items * len(concurrencies)
	fmt.Println("totalCalls: ", totalCall, ", minimal seq duration:", time.Duration(totalCall)*time.Millisecond)

	// Start profiling
	func() {
		_ = pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()

		// Run group, the last buffer is discarded
		start := time.Now()
		go func() {
			for {
				if _, err := last.ReadContext(context.Background()); err != nil {
					return
				}
			}
		}()
		_ = group.Start()
		if err := <-group.WhenFinished(); err != nil {
			fmt.Println(err)
		}
		fmt.Printf("(par: %s)\n", time.Since(start))
	}()

	fmt.Printf("profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
	// On all files
	// source <(ls | grep .prof | nl | awk '{print "pprof -http=:"$1 + 8080, $2,$3,"&"}')
}
