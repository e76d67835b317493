// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is the wire representation of a record exchanged with the remote
// system. Values follow encoding/json decoding with UseNumber.
type Row map[string]any

// Fields that only exist on the device and never travel in a payload.
var localOnlyFields = []string{"local_id", "remote_id", "is_synced"}

// EncodePayload serializes a record into a queue payload: the record's
// fields minus the local-only bookkeeping.
func EncodePayload(rec Record) ([]byte, error) {
	row, err := RemoteRow(rec)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// DecodePayload rebuilds the typed record held by a queue payload. The
// record's local id is taken from the queue entry, never from the payload.
func DecodePayload(table Table, recordID string, payload []byte) (Record, error) {
	rec, err := NewRecord(table)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s payload: %v", ErrInvalidRecord, table, err)
	}
	m := rec.Meta()
	m.LocalID = recordID
	m.RemoteID = ""
	m.IsSynced = false
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoteRow converts a record into the row pushed to the remote system,
// stripping local-only fields.
func RemoteRow(rec Record) (Row, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", rec.Table(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	row := Row{}
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", rec.Table(), err)
	}
	for _, f := range localOnlyFields {
		delete(row, f)
	}
	return row, nil
}

// StringField returns a string-valued field of a remote row.
func (r Row) StringField(name string) (string, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
