package datapumps_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/fogfactory/datapumps"
	"github.com/maxatome/go-testdeep/td"
)

func TestProcesses(t *testing.T) {
	ctx := context.Background()

	t.Run("success_transform", func(t *testing.T) {
		// Arrange
		pump := datapumps.NewPump()
		proc := datapumps.Transform(func(i int) (string, error) { return strconv.Itoa(i), nil })

		// Act
		err := proc(ctx, 42, pump)

		// Assert
		td.CmpNoError(t, err)
		output, _ := pump.Buffer("output")
		td.Cmp(t, output.Content(), []any{"42"})
	})

	t.Run("error_transform_type", func(t *testing.T) {
		// Arrange
		pump := datapumps.NewPump()
		proc := datapumps.Transform(func(i int) (int, error) { return i, nil })

		// Act
		err := proc(ctx, "not an int", pump)

		// Assert
		var typeErr *datapumps.TypeError
		td.CmpTrue(t, errors.As(err, &typeErr))
		td.CmpContains(t, err.Error(), "expected int, got string")
	})

	t.Run("success_filter", func(t *testing.T) {
		// Arrange
		pump := datapumps.NewPump()
		proc := datapumps.Filter(func(i int) bool { return i%2 == 0 })

		// Act
		for i := 0; i < 5; i++ {
			td.Require(t).CmpNoError(proc(ctx, i, pump))
		}

		// Assert
		output, _ := pump.Buffer("")
		td.Cmp(t, output.Content(), []any{0, 2, 4})
	})

	t.Run("success_link_stops_at_failure", func(t *testing.T) {
		// Arrange
		pump := datapumps.NewPump()
		failure := errors.New("rejected")
		calls := 0
		proc := datapumps.Link(
			datapumps.CopyProcess,
			func(context.Context, any, *datapumps.Pump) error { return failure },
			func(context.Context, any, *datapumps.Pump) error { calls++; return nil },
		)

		// Act
		err := proc(ctx, "item", pump)

		// Assert
		td.CmpErrorIs(t, err, failure)
		td.Cmp(t, calls, 0)
		output, _ := pump.Buffer("output")
		td.Cmp(t, output.Content(), []any{"item"})
	})

	t.Run("error_unknown_target_buffer", func(t *testing.T) {
		// Arrange
		pump := datapumps.NewPump()

		// Act
		err := pump.WriteTo(ctx, "nope", 1)

		// Assert
		td.CmpErrorIs(t, err, datapumps.ErrUnknownBuffer)
	})
}
