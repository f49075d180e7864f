// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by the launcher
// and its init child.
//
// The parent and child exchange two messages over inherited pipes: the
// launch request (descriptor plus child options) and, on failure, a
// stage report. Both are encoded here so that the two sides cannot
// disagree on format. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The decoder rejects duplicate map keys and
// indefinite-length items and bounds nesting and collection sizes.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For pipes:
//
//	encoder := codec.NewEncoder(pipe)
//	decoder := codec.NewDecoder(pipe)
//
// Types exchanged over these channels use integer keys
// (`cbor:"1,keyasint"`) and are never serialized as JSON.
package codec
