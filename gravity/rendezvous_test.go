// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/matrix"
)

func TestRendezvous_GatherDropsLeftAreas(t *testing.T) {
	rv := newRendezvous[int]([]int{1, 2, 3})
	ctx := context.Background()

	rv.req[1] <- 10
	rv.leave(2)
	rv.req[3] <- 30

	subs, active, err := rv.gather(ctx, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 10, 3: 30}, subs)
	assert.Equal(t, []int{1, 3}, active)
}

func TestRendezvous_ExchangeAndStop(t *testing.T) {
	rv := newRendezvous[int]([]int{7})
	ctx := context.Background()

	done := make(chan furness.Result, 1)
	go func() {
		res, err := rv.exchange(ctx, 7, 1)
		assert.NoError(t, err)
		done <- res
	}()

	subs, _, err := rv.gather(ctx, []int{7})
	require.NoError(t, err)
	require.Equal(t, 1, subs[7])
	rv.reply(7, furness.Result{Iterations: 3})
	assert.Equal(t, 3, (<-done).Iterations)

	rv.closeReplies()
	_, err = rv.exchange(ctx, 7, 2)
	assert.ErrorIs(t, err, ErrAggregatorStopped)
}

func TestRendezvous_GatherHonoursContext(t *testing.T) {
	rv := newRendezvous[int]([]int{1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := rv.gather(ctx, []int{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGravityCombine_KeepsLatestSeed(t *testing.T) {
	rows, cols := []float64{10, 10}, []float64{10, 10}
	combine := gravityCombine(rows, cols, furness.Options{Logger: zap.NewNop()})
	ctx := context.Background()

	a, err := matrix.NewDenseRows([][]float64{{1, 1}, {0, 0}})
	require.NoError(t, err)
	b, err := matrix.NewDenseRows([][]float64{{0, 0}, {1, 3}})
	require.NoError(t, err)
	_, err = combine(ctx, map[int]*matrix.Dense{0: a, 1: b})
	require.NoError(t, err)

	b2, err := matrix.NewDenseRows([][]float64{{0, 0}, {3, 1}})
	require.NoError(t, err)
	got, err := combine(ctx, map[int]*matrix.Dense{1: b2})
	require.NoError(t, err)

	global, err := matrix.Add(a, b2)
	require.NoError(t, err)
	want, err := furness.DoublyConstrained(ctx, global, rows, cols, furness.Options{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Matrix.Data(), got.Matrix.Data(), 1e-12)
}

func TestJacobianCombine_SumsSubmitters(t *testing.T) {
	combine := jacobianCombine(furness.Options{Tol: 1e-9, MaxIters: 100})
	a, err := matrix.NewDenseRows([][]float64{{2, 0}, {0, 0}})
	require.NoError(t, err)
	b, err := matrix.NewDenseRows([][]float64{{0, 0}, {0, 3}})
	require.NoError(t, err)

	res, err := combine(context.Background(), map[int]jacobianRequest{
		0: {seed: a, rows: []float64{2, 0}, cols: []float64{2, 0}},
		1: {seed: b, rows: []float64{0, 3}, cols: []float64{0, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 0, 3}, res.Matrix.Data())
	assert.True(t, res.Converged)

	_, err = combine(context.Background(), map[int]jacobianRequest{
		0: {seed: a, rows: []float64{2, 0}, cols: []float64{2, 0}},
		1: {seed: b, rows: []float64{3}, cols: []float64{0, 3}},
	})
	assert.ErrorIs(t, err, matrix.ErrDimensionMismatch)
}

func TestAggregator_SplitsByLabel(t *testing.T) {
	labels, err := matrix.NewLabelsRows([][]int{{0, matrix.IgnoreLabel}, {1, 1}})
	require.NoError(t, err)
	ids := []int{0, 1}
	masks := map[int]*matrix.Mask{0: labels.Mask(0), 1: labels.Mask(1)}
	rv := newRendezvous[*matrix.Dense](ids)
	agg := &aggregator[*matrix.Dense]{
		kind: "gravity", ids: ids, labels: labels, rv: rv, logger: zap.NewNop(),
		combine: gravityCombine([]float64{4, 6}, []float64{5, 5}, furness.Options{}),
	}

	errc := make(chan error, 1)
	go func() { errc <- agg.run(context.Background()) }()

	type reply struct {
		id  int
		res furness.Result
		err error
	}
	replies := make(chan reply, 2)
	for _, id := range ids {
		p := &areaProvider{id: id, grv: rv}
		seed, err := matrix.Masked(mustOnes(t), masks[id])
		require.NoError(t, err)
		go func() {
			res, err := p.GravityFurness(context.Background(), seed)
			replies <- reply{id: id, res: res, err: err}
			rv.leave(id)
		}()
	}

	for range ids {
		r := <-replies
		require.NoError(t, r.err)
		for k, v := range r.res.Matrix.Data() {
			row := k / 2
			if row != r.id {
				assert.Zero(t, v)
			}
		}
		ignored, err := r.res.Matrix.At(0, 1)
		require.NoError(t, err)
		assert.Zero(t, ignored, "area %d received an ignored cell", r.id)
	}
	require.NoError(t, <-errc)
}

func mustOnes(t *testing.T) *matrix.Dense {
	t.Helper()
	m, err := matrix.NewFilled(2, 2, 1)
	require.NoError(t, err)

	return m
}
