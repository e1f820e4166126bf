package hyperliquid

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// packer writes msgpack maps in a fixed key order. The exchange hashes the
// packed bytes, so field order must match the reference encoding exactly.
type packer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

func newPacker() *packer {
	p := &packer{}
	p.enc = msgpack.NewEncoder(&p.buf)
	return p
}

func (p *packer) mapLen(n int) {
	if p.err == nil {
		p.err = p.enc.EncodeMapLen(n)
	}
}

func (p *packer) arrayLen(n int) {
	if p.err == nil {
		p.err = p.enc.EncodeArrayLen(n)
	}
}

func (p *packer) str(key, value string) {
	p.key(key)
	if p.err == nil {
		p.err = p.enc.EncodeString(value)
	}
}

func (p *packer) boolean(key string, value bool) {
	p.key(key)
	if p.err == nil {
		p.err = p.enc.EncodeBool(value)
	}
}

func (p *packer) integer(key string, value int64) {
	p.key(key)
	if p.err == nil {
		p.err = p.enc.EncodeInt(value)
	}
}

func (p *packer) key(k string) {
	if p.err == nil {
		p.err = p.enc.EncodeString(k)
	}
}

func (p *packer) bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.buf.Bytes(), nil
}

func encodeOrderAction(action orderAction) ([]byte, error) {
	if len(action.Orders) == 0 {
		return nil, errors.New("order action needs at least one order")
	}
	if action.Grouping == "" {
		action.Grouping = groupingNone
	}
	p := newPacker()
	p.mapLen(3)
	p.str("type", "order")
	p.key("orders")
	p.arrayLen(len(action.Orders))
	for _, o := range action.Orders {
		if err := packOrder(p, o); err != nil {
			return nil, err
		}
	}
	p.str("grouping", action.Grouping)
	return p.bytes()
}

func packOrder(p *packer, o orderWire) error {
	n := 6
	if o.Cloid != "" {
		n++
	}
	p.mapLen(n)
	p.integer("a", int64(o.Asset))
	p.boolean("b", o.IsBuy)
	p.str("p", o.Price)
	p.str("s", o.Size)
	p.boolean("r", o.ReduceOnly)
	p.key("t")
	switch {
	case o.OrderType.Limit != nil:
		p.mapLen(1)
		p.key("limit")
		p.mapLen(1)
		p.str("tif", string(o.OrderType.Limit.Tif))
	case o.OrderType.Trigger != nil:
		p.mapLen(1)
		p.key("trigger")
		p.mapLen(3)
		p.boolean("isMarket", o.OrderType.Trigger.IsMarket)
		p.str("triggerPx", o.OrderType.Trigger.TriggerPx)
		p.str("tpsl", o.OrderType.Trigger.Tpsl)
	default:
		return errors.New("order type must be limit or trigger")
	}
	if o.Cloid != "" {
		p.str("c", o.Cloid)
	}
	return p.err
}

func encodeCancelAction(action cancelAction) ([]byte, error) {
	if len(action.Cancels) == 0 {
		return nil, errors.New("cancel action needs at least one order")
	}
	p := newPacker()
	p.mapLen(2)
	p.str("type", "cancel")
	p.key("cancels")
	p.arrayLen(len(action.Cancels))
	for _, c := range action.Cancels {
		p.mapLen(2)
		p.integer("a", int64(c.Asset))
		p.integer("o", c.OrderID)
	}
	return p.bytes()
}

func encodeLeverageAction(action leverageAction) ([]byte, error) {
	if action.Leverage <= 0 {
		return nil, errors.New("leverage must be positive")
	}
	p := newPacker()
	p.mapLen(4)
	p.str("type", "updateLeverage")
	p.integer("asset", int64(action.Asset))
	p.boolean("isCross", action.IsCross)
	p.integer("leverage", int64(action.Leverage))
	return p.bytes()
}
