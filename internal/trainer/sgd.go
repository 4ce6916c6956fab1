package trainer

import (
	"fmt"
)

// SGD is stochastic gradient descent with optional momentum, Nesterov
// momentum and L2 weight decay folded into the gradient.
type SGD struct {
	Momentum    float64
	WeightDecay float64
	Nesterov    bool

	buffers map[string][]float64
}

func NewSGD(momentum, weightDecay float64, nesterov bool) (*SGD, error) {
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0,1), got %v", momentum)
	}
	if weightDecay < 0 {
		return nil, fmt.Errorf("weight decay must be >= 0, got %v", weightDecay)
	}
	if nesterov && momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}
	return &SGD{
		Momentum:    momentum,
		WeightDecay: weightDecay,
		Nesterov:    nesterov,
		buffers:     make(map[string][]float64),
	}, nil
}

// Step updates params in place from grads at learning rate lr.
func (o *SGD) Step(params, grads map[string][]float64, lr float64) error {
	for name, p := range params {
		g, ok := grads[name]
		if !ok {
			continue
		}
		if len(g) != len(p) {
			return fmt.Errorf("gradient %s has %d values for %d parameters", name, len(g), len(p))
		}
		buf, seen := o.buffers[name]
		if o.Momentum > 0 && !seen {
			buf = make([]float64, len(p))
			o.buffers[name] = buf
		}
		for i := range p {
			d := g[i] + o.WeightDecay*p[i]
			if o.Momentum > 0 {
				if seen {
					buf[i] = o.Momentum*buf[i] + d
				} else {
					buf[i] = d
				}
				if o.Nesterov {
					d += o.Momentum * buf[i]
				} else {
					d = buf[i]
				}
			}
			p[i] -= lr * d
		}
	}
	return nil
}

// State copies the momentum buffers.
func (o *SGD) State() map[string][]float64 {
	out := make(map[string][]float64, len(o.buffers))
	for name, buf := range o.buffers {
		out[name] = append([]float64(nil), buf...)
	}
	return out
}

func (o *SGD) Restore(state map[string][]float64) {
	o.buffers = make(map[string][]float64, len(state))
	for name, buf := range state {
		o.buffers[name] = append([]float64(nil), buf...)
	}
}
