// Package replay feeds a recorded metric series through a controller.
package replay

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
)

// Point is one recorded observation. Epoch is zero when the series did not
// carry explicit epochs.
type Point struct {
	Epoch  int
	Metric float64
}

// Record describes the controller after one replayed point. Point.Epoch is
// the epoch the controller resolved.
type Record struct {
	Point    Point
	IterTerm float64
	Improved bool
	Raised   bool
	State    adaptive.State
}

// Result summarises a replay.
type Result struct {
	Processed int
	Stopped   bool
	Final     adaptive.State
}

// ReadSeries parses one observation per line: either "metric" or
// "epoch metric". Blank lines and lines starting with '#' are skipped;
// trailing comments are allowed.
func ReadSeries(r io.Reader) ([]Point, error) {
	var points []Point
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})

		var p Point
		switch len(fields) {
		case 0:
			continue
		case 1:
			m, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid metric %q", lineNo, fields[0])
			}
			p.Metric = m
		case 2:
			e, err := strconv.Atoi(fields[0])
			if err != nil || e < 0 {
				return nil, fmt.Errorf("line %d: invalid epoch %q", lineNo, fields[0])
			}
			m, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid metric %q", lineNo, fields[1])
			}
			p = Point{Epoch: e, Metric: m}
		default:
			return nil, fmt.Errorf("line %d: expected \"metric\" or \"epoch metric\", got %d fields", lineNo, len(fields))
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// Run feeds points into ctrl in order and calls visit after each one. It
// stops after the first point that latches ShouldStop. visit may be nil.
func Run(ctrl *adaptive.Controller, points []Point, visit func(Record)) Result {
	var res Result
	for _, p := range points {
		before := ctrl.State()

		var term float64
		if p.Epoch > 0 {
			term = ctrl.StepAt(p.Metric, p.Epoch)
		} else {
			term = ctrl.Step(p.Metric)
		}
		after := ctrl.State()
		res.Processed++

		if visit != nil {
			visit(Record{
				Point:    Point{Epoch: after.LastEpoch, Metric: p.Metric},
				IterTerm: term,
				Improved: after.Best != before.Best,
				Raised:   after.IterTerm > before.IterTerm,
				State:    after,
			})
		}
		if after.ShouldStop {
			res.Stopped = true
			break
		}
	}
	res.Final = ctrl.State()
	return res
}
