package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	untrainedFilters = 32
	untrainedHidden  = 128
)

// UntrainedClassifier rebuilds the skin type architecture (pointwise conv,
// global average pooling, dense, softmax) without trained weights. It is the
// last resort when no session can be bound and its output carries no signal.
type UntrainedClassifier struct {
	conv    *mat.Dense // 3 x filters
	convB   []float64
	hidden  *mat.Dense // filters x hidden
	hiddenB []float64
	out     *mat.Dense // hidden x classes
	outB    []float64
	classes int
}

// NewUntrainedClassifier builds the architecture with glorot-uniform weights
// drawn from a seeded source and zero biases.
func NewUntrainedClassifier(classes int, seed uint64) (*UntrainedClassifier, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("invalid class count %d", classes)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &UntrainedClassifier{
		conv:    glorot(rng, Channels, untrainedFilters),
		convB:   make([]float64, untrainedFilters),
		hidden:  glorot(rng, untrainedFilters, untrainedHidden),
		hiddenB: make([]float64, untrainedHidden),
		out:     glorot(rng, untrainedHidden, classes),
		outB:    make([]float64, classes),
		classes: classes,
	}, nil
}

// Channels is the pixel width of the NHWC input.
const Channels = 3

func glorot(rng *rand.Rand, fanIn, fanOut int) *mat.Dense {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(fanIn, fanOut, data)
}

// Predict accepts any flattened NHWC batch of one whose length is a multiple of 3.
func (u *UntrainedClassifier) Predict(input []float32) ([]float32, error) {
	if len(input) == 0 || len(input)%Channels != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d", len(input), Channels)
	}
	pixels := len(input) / Channels

	x := mat.NewDense(pixels, Channels, nil)
	for p := 0; p < pixels; p++ {
		for c := 0; c < Channels; c++ {
			x.Set(p, c, float64(input[p*Channels+c]))
		}
	}

	var fm mat.Dense
	fm.Mul(x, u.conv)

	// relu then global average pooling over pixels
	pooled := make([]float64, untrainedFilters)
	for p := 0; p < pixels; p++ {
		row := fm.RawRowView(p)
		for f := range row {
			if v := row[f] + u.convB[f]; v > 0 {
				pooled[f] += v
			}
		}
	}
	floats.Scale(1/float64(pixels), pooled)

	h := dense(pooled, u.hidden, u.hiddenB)
	for i, v := range h {
		if v < 0 {
			h[i] = 0
		}
	}
	logits := dense(h, u.out, u.outB)
	return softmax(logits), nil
}

func dense(in []float64, w *mat.Dense, b []float64) []float64 {
	var out mat.VecDense
	out.MulVec(w.T(), mat.NewVecDense(len(in), in))
	res := make([]float64, out.Len())
	for i := range res {
		res[i] = out.AtVec(i) + b[i]
	}
	return res
}

func softmax(logits []float64) []float32 {
	maxLogit := floats.Max(logits)
	exp := make([]float64, len(logits))
	for i, v := range logits {
		exp[i] = math.Exp(v - maxLogit)
	}
	sum := floats.Sum(exp)
	out := make([]float32, len(exp))
	for i, v := range exp {
		out[i] = float32(v / sum)
	}
	return out
}

func (u *UntrainedClassifier) NumClasses() int { return u.classes }

func (u *UntrainedClassifier) Close() error { return nil }
