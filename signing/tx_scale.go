package signing

import (
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/computeledger/trainmgr/types"
)

const (
	maxNameLength    = 256
	maxIPLength      = 255
	maxPayloadLength = 1 << 16
)

func (c *Call) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, uint64(c.Method))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(c.Run))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, c.Target[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(c.Role))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, c.Amount)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeString(enc, c.Name)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeString(enc, c.IP)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSlice(enc, c.Payload)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *Call) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		if field > 0xff {
			return total, fmt.Errorf("method %d out of range", field)
		}
		c.Method = Method(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		c.Run = types.RunID(field)
	}
	{
		n, err := scale.DecodeByteArray(dec, c.Target[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		if field > 0xff {
			return total, fmt.Errorf("role %d out of range", field)
		}
		c.Role = types.Role(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		c.Amount = field
	}
	{
		field, n, err := scale.DecodeString(dec)
		if err != nil {
			return total, err
		}
		total += n
		if len(field) > maxNameLength {
			return total, fmt.Errorf("name exceeds %d bytes", maxNameLength)
		}
		c.Name = field
	}
	{
		field, n, err := scale.DecodeString(dec)
		if err != nil {
			return total, err
		}
		total += n
		if len(field) > maxIPLength {
			return total, fmt.Errorf("ip exceeds %d bytes", maxIPLength)
		}
		c.IP = field
	}
	{
		field, n, err := scale.DecodeByteSlice(dec)
		if err != nil {
			return total, err
		}
		total += n
		if len(field) > maxPayloadLength {
			return total, fmt.Errorf("payload exceeds %d bytes", maxPayloadLength)
		}
		c.Payload = field
	}
	return total, nil
}

func (t *Tx) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, t.ChainID)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, t.From[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, t.Nonce)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := t.Call.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *Tx) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		t.ChainID = field
	}
	{
		n, err := scale.DecodeByteArray(dec, t.From[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		t.Nonce = field
	}
	{
		n, err := t.Call.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *SignedTx) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := s.Tx.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSlice(enc, s.Signature)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *SignedTx) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := s.Tx.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeByteSlice(dec)
		if err != nil {
			return total, err
		}
		total += n
		s.Signature = field
	}
	return total, nil
}
