// Package ensemble implements the online-trained feed-forward regressor
// ensemble: several small networks of differing hidden width and
// hyperparameters, combined by error-weighted averaging and trained
// incrementally with momentum and L2 regularization.
package ensemble

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/features"
)

const netCount = 3

var hiddenSizes = [netCount]int{4, 6, 8}

// net is one small feed-forward network: input -> ReLU hidden -> sigmoid
// output, trained online with momentum and L2 regularization on weights.
type net struct {
	hidden int
	w1     [][]float64 // hidden x input
	b1     []float64   // hidden
	w2     []float64   // hidden (single output unit)
	b2     float64

	v1 [][]float64 // momentum velocity for w1
	vb1 []float64
	v2  []float64 // momentum velocity for w2
	vb2 float64

	momentum     float64
	l2           float64
	learningRate float64

	lastInput  features.Vector
	lastHidden []float64
	lastZ      []float64 // pre-activation hidden values, for ReLU gradient
	lastOutput float64
}

func newNet(hidden int, momentum, l2, lr float64, rng *rand.Rand) *net {
	scale := math.Sqrt(2.0 / float64(features.Width+hidden))
	w1 := make([][]float64, hidden)
	v1 := make([][]float64, hidden)
	for h := 0; h < hidden; h++ {
		w1[h] = make([]float64, features.Width)
		v1[h] = make([]float64, features.Width)
		for i := 0; i < features.Width; i++ {
			w1[h][i] = (rng.Float64()*2 - 1) * scale
		}
	}
	w2 := make([]float64, hidden)
	for h := 0; h < hidden; h++ {
		w2[h] = (rng.Float64()*2 - 1) * scale
	}
	return &net{
		hidden:       hidden,
		w1:           w1,
		b1:           make([]float64, hidden),
		w2:           w2,
		b2:           0,
		v1:           v1,
		vb1:          make([]float64, hidden),
		v2:           make([]float64, hidden),
		momentum:     momentum,
		l2:           l2,
		learningRate: lr,
	}
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float64) float64 {
	if x < -20 {
		x = -20
	}
	if x > 20 {
		x = 20
	}
	return 1 / (1 + math.Exp(-x))
}

func (n *net) forward(x features.Vector) float64 {
	z := make([]float64, n.hidden)
	h := make([]float64, n.hidden)
	for hi := 0; hi < n.hidden; hi++ {
		sum := n.b1[hi]
		for i := 0; i < features.Width; i++ {
			sum += n.w1[hi][i] * x[i]
		}
		z[hi] = sum
		h[hi] = relu(sum)
	}
	out := n.b2
	for hi := 0; hi < n.hidden; hi++ {
		out += n.w2[hi] * h[hi]
	}
	y := sigmoid(out)

	n.lastInput = x
	n.lastZ = z
	n.lastHidden = h
	n.lastOutput = y
	return y
}

// learn runs one step of squared-error gradient descent with momentum and
// L2 regularization on the weights (not biases), using the last forward
// pass's cached activations.
func (n *net) learn(target float64) {
	// dL/dy for squared error: 2*(y-target); folded into the learning rate.
	errTerm := (n.lastOutput - target) * n.lastOutput * (1 - n.lastOutput)

	// Output layer.
	for hi := 0; hi < n.hidden; hi++ {
		grad := errTerm*n.lastHidden[hi] + n.l2*n.w2[hi]
		n.v2[hi] = n.momentum*n.v2[hi] - n.learningRate*grad
		n.w2[hi] += n.v2[hi]
	}
	n.vb2 = n.momentum*n.vb2 - n.learningRate*errTerm
	n.b2 += n.vb2

	// Hidden layer (ReLU derivative gates the backprop term).
	for hi := 0; hi < n.hidden; hi++ {
		if n.lastZ[hi] <= 0 {
			continue
		}
		hiddenErr := errTerm * n.w2[hi]
		for i := 0; i < features.Width; i++ {
			grad := hiddenErr*n.lastInput[i] + n.l2*n.w1[hi][i]
			n.v1[hi][i] = n.momentum*n.v1[hi][i] - n.learningRate*grad
			n.w1[hi][i] += n.v1[hi][i]
		}
		n.vb1[hi] = n.momentum*n.vb1[hi] - n.learningRate*hiddenErr
		n.b1[hi] += n.vb1[hi]
	}
}

// Ensemble is K online-trained nets combined by error-weighted averaging.
type Ensemble struct {
	nets    [netCount]*net
	weights [netCount]float64
}

// New builds a fresh ensemble with Xavier-initialized weights and the
// diversification scheme from: hidden sizes {4,6,8}, momentum
// decreasing by 0.1 per net, L2 increasing by 1e-3 per net, learning rate
// varied +/-20% around a base rate.
func New() *Ensemble {
	const baseMomentum = 0.9
	const baseL2 = 1e-3
	const baseLR = 0.05

	rng := rand.New(rand.NewSource(1))
	e := &Ensemble{}
	for i := 0; i < netCount; i++ {
		momentum := baseMomentum - 0.1*float64(i)
		l2 := baseL2 + 1e-3*float64(i)
		lrSpread := 0.2 * (float64(i)/float64(netCount-1)*2 - 1)
		lr := baseLR * (1 + lrSpread)
		e.nets[i] = newNet(hiddenSizes[i], momentum, l2, lr, rng)
		e.weights[i] = 1.0 / netCount
	}
	return e
}

// Predict returns the combined ensemble prediction in [0,1].
func (e *Ensemble) Predict(f features.Vector) float64 {
	var combined float64
	for i, n := range e.nets {
		combined += e.weights[i] * n.forward(f)
	}
	return clip01(combined)
}

// Learn runs one online update against a single example and reweights the
// ensemble by each net's relative error.
func (e *Ensemble) Learn(f features.Vector, target float64) {
	e.learnOne(f, target)
}

// LearnBatch runs Learn over every example in the batch, in order.
func (e *Ensemble) LearnBatch(batch []features.Example) {
	for _, ex := range batch {
		e.learnOne(ex.Features, ex.Target)
	}
}

func (e *Ensemble) learnOne(f features.Vector, target float64) {
	var preds [netCount]float64
	var absErrs [netCount]float64
	var sumAbsErr float64
	for i, n := range e.nets {
		preds[i] = n.forward(f)
		absErrs[i] = math.Abs(preds[i] - target)
		sumAbsErr += absErrs[i]
	}
	for _, n := range e.nets {
		n.learn(target)
	}
	e.reweight(absErrs, sumAbsErr)
}

// reweight implements wi ∝ (Σ|εj| − |εi|), renormalized to sum to 1, with a
// uniform reset when every net's error is below the degenerate threshold.
func (e *Ensemble) reweight(absErrs [netCount]float64, sumAbsErr float64) {
	allDegenerate := true
	for _, ae := range absErrs {
		if ae > 1e-4 {
			allDegenerate = false
			break
		}
	}
	if allDegenerate {
		for i := range e.weights {
			e.weights[i] = 1.0 / netCount
		}
		return
	}

	var raw [netCount]float64
	var total float64
	for i, ae := range absErrs {
		raw[i] = math.Max(0, sumAbsErr-ae)
		total += raw[i]
	}
	if total <= 0 {
		log.Warn().Msg("ensemble reweight collapsed to zero total, resetting to uniform")
		for i := range e.weights {
			e.weights[i] = 1.0 / netCount
		}
		return
	}
	for i := range e.weights {
		e.weights[i] = raw[i] / total
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const blobMagic uint32 = 0x454e5331 // "ENS1"
const blobVersion uint16 = 1

// Save serializes the ensemble into a self-describing byte blob: magic,
// version, then per-net hidden size, weight matrices, biases and
// hyperparameters, in net order.
func (e *Ensemble) Save() []byte {
	var buf []byte
	buf = appendUint32(buf, blobMagic)
	buf = appendUint16(buf, blobVersion)
	buf = appendUint16(buf, netCount)

	for i, n := range e.nets {
		buf = appendUint16(buf, uint16(n.hidden))
		buf = appendFloat64(buf, e.weights[i])
		buf = appendFloat64(buf, n.momentum)
		buf = appendFloat64(buf, n.l2)
		buf = appendFloat64(buf, n.learningRate)
		buf = appendFloat64(buf, n.b2)
		for h := 0; h < n.hidden; h++ {
			buf = appendFloat64(buf, n.b1[h])
			for j := 0; j < features.Width; j++ {
				buf = appendFloat64(buf, n.w1[h][j])
			}
			buf = appendFloat64(buf, n.w2[h])
		}
	}
	return buf
}

// Load deserializes a blob produced by Save. Unknown versions fail closed
// (returns an error; caller keeps whatever ensemble it already has).
func Load(blob []byte) (*Ensemble, error) {
	r := blobReader{data: blob}
	magic, err := r.uint32()
	if err != nil || magic != blobMagic {
		return nil, fmt.Errorf("ensemble: bad magic")
	}
	version, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("ensemble: truncated header: %w", err)
	}
	if version != blobVersion {
		return nil, fmt.Errorf("ensemble: unsupported version %d", version)
	}
	count, err := r.uint16()
	if err != nil || int(count) != netCount {
		return nil, fmt.Errorf("ensemble: unexpected net count")
	}

	e := &Ensemble{}
	for i := 0; i < netCount; i++ {
		hidden, err := r.uint16()
		if err != nil {
			return nil, fmt.Errorf("ensemble: truncated net header: %w", err)
		}
		weight, err := r.float64()
		if err != nil {
			return nil, err
		}
		momentum, err := r.float64()
		if err != nil {
			return nil, err
		}
		l2, err := r.float64()
		if err != nil {
			return nil, err
		}
		lr, err := r.float64()
		if err != nil {
			return nil, err
		}
		b2, err := r.float64()
		if err != nil {
			return nil, err
		}

		n := &net{
			hidden:       int(hidden),
			w1:           make([][]float64, hidden),
			b1:           make([]float64, hidden),
			w2:           make([]float64, hidden),
			v1:           make([][]float64, hidden),
			vb1:          make([]float64, hidden),
			v2:           make([]float64, hidden),
			momentum:     momentum,
			l2:           l2,
			learningRate: lr,
			b2:           b2,
		}
		for h := 0; h < int(hidden); h++ {
			n.b1[h], err = r.float64()
			if err != nil {
				return nil, err
			}
			n.w1[h] = make([]float64, features.Width)
			n.v1[h] = make([]float64, features.Width)
			for j := 0; j < features.Width; j++ {
				n.w1[h][j], err = r.float64()
				if err != nil {
					return nil, err
				}
			}
			n.w2[h], err = r.float64()
			if err != nil {
				return nil, err
			}
		}
		e.nets[i] = n
		e.weights[i] = weight
	}
	return e, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

type blobReader struct {
	data []byte
	pos  int
}

func (r *blobReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ensemble: truncated blob")
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *blobReader) uint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ensemble: truncated blob")
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *blobReader) float64() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ensemble: truncated blob")
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v, nil
}
