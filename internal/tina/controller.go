// Package tina decides, once per epoch, which distribution report (if any)
// a node sends, suppressing changes smaller than the temporal coherency
// threshold.
package tina

import (
	"fmt"

	"github.com/danmuck/tina/internal/aggregate"
	"github.com/danmuck/tina/internal/protocol"
)

// Decision is the outcome of one comparison. Msg is nil when the epoch is
// suppressed.
type Decision struct {
	Epoch     uint32
	Msg       protocol.Message
	SendMax   bool
	SendCount bool
	Max       uint8
	Count     uint8
}

func (d Decision) Suppressed() bool { return d.Msg == nil }

func (d Decision) String() string {
	if d.Msg == nil {
		return fmt.Sprintf("epoch=%d suppressed", d.Epoch)
	}
	return fmt.Sprintf("epoch=%d %s %+v", d.Epoch, d.Msg.Kind(), d.Msg)
}

type reported struct {
	value uint8
	valid bool
}

// Controller keeps what the parent last received from this node.
type Controller struct {
	lastMax   reported
	lastCount reported
}

func NewController() *Controller {
	return &Controller{}
}

// Changed reports whether current differs from the last reported value by
// at least tct. A field never reported always counts as changed; a zero
// difference never does, so tct 0 and 1 both mean "any change".
func Changed(current uint8, last uint8, valid bool, tct uint8) bool {
	if !valid {
		return true
	}
	d := int(current) - int(last)
	if d < 0 {
		d = -d
	}
	return d != 0 && d >= int(tct)
}

// Decide applies the suppression table to state. It does not mutate the
// controller; call Commit once the decision is enqueued.
func (c *Controller) Decide(epoch uint32, params protocol.ExecParams, state aggregate.State) Decision {
	d := Decision{Epoch: epoch, Max: state.CurrentMax, Count: state.CurrentCount}
	maxChanged := params.Mode.HasMax() && Changed(state.CurrentMax, c.lastMax.value, c.lastMax.valid, params.TCT)
	countChanged := params.Mode.HasCount() && Changed(state.CurrentCount, c.lastCount.value, c.lastCount.valid, params.TCT)

	switch params.Mode {
	case protocol.ModeMaxCount:
		switch {
		case maxChanged && countChanged:
			d.Msg = protocol.DistrFull{Max: uint16(state.CurrentMax), Count: state.CurrentCount}
		case maxChanged:
			d.Msg = protocol.DistrSemi{Flag: protocol.ModeMax, Data: state.CurrentMax}
		case countChanged:
			d.Msg = protocol.DistrSemi{Flag: protocol.ModeCount, Data: state.CurrentCount}
		}
	case protocol.ModeMax:
		if maxChanged {
			d.Msg = protocol.DistrSingle{Data: state.CurrentMax}
		}
	case protocol.ModeCount:
		if countChanged {
			d.Msg = protocol.DistrSingle{Data: state.CurrentCount}
		}
	}
	d.SendMax = d.Msg != nil && maxChanged
	d.SendCount = d.Msg != nil && countChanged
	return d
}

// Commit records the fields d actually carried. Fields not sent keep their
// stale last-reported value.
func (c *Controller) Commit(d Decision) {
	if d.SendMax {
		c.lastMax = reported{value: d.Max, valid: true}
	}
	if d.SendCount {
		c.lastCount = reported{value: d.Count, valid: true}
	}
}

// Invalidate forgets what the parent holds, forcing the next decision to
// report every active field.
func (c *Controller) Invalidate() {
	c.lastMax = reported{}
	c.lastCount = reported{}
}

// LastReported returns the committed values and whether each is set.
func (c *Controller) LastReported() (maxVal uint8, hasMax bool, countVal uint8, hasCount bool) {
	return c.lastMax.value, c.lastMax.valid, c.lastCount.value, c.lastCount.valid
}
