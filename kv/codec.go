package kv

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
)

func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("serializing: %w", err)
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}

// GetRecord loads the xdr record under key into v.
// It returns ErrNotFound (wrapped) for a missing key.
func GetRecord(r Reader, key []byte, v any) error {
	data, err := r.Get(key)
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	return Unmarshal(data, v)
}

// LookupRecord is GetRecord reporting a missing key as found == false.
func LookupRecord(r Reader, key []byte, v any) (found bool, err error) {
	err = GetRecord(r, key, v)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func PutRecord(s Store, key []byte, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	if err := s.Put(key, data); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}
