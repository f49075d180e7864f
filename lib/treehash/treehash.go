// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package treehash computes a BLAKE3 fingerprint of a directory tree.
//
// The fingerprint covers every entry's relative path, type, permission
// bits, and content (file bytes or symlink target). Timestamps and
// ownership are excluded, so copying a tree preserves its fingerprint
// while any write through it changes the fingerprint. Entries are
// visited in lexical order, which makes the result independent of
// directory read order.
package treehash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash, which no tree produces.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Domain separation keys, the ASCII domain name zero-padded to 32
// bytes. Changing them changes every fingerprint.
var (
	treeDomainKey = [32]byte{
		'c', 'e', 'l', 'l', '.', 't', 'r', 'e', 'e', 'h', 'a', 's', 'h', '.',
		't', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	fileDomainKey = [32]byte{
		'c', 'e', 'l', 'l', '.', 't', 'r', 'e', 'e', 'h', 'a', 's', 'h', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Entry type tags written into the tree hash.
const (
	tagDirectory byte = 'd'
	tagFile      byte = 'f'
	tagSymlink   byte = 'l'
	tagOther     byte = 'o'
)

// Directory fingerprints the tree rooted at root. Symlinks are hashed by
// target and never followed. Device nodes, sockets, and FIFOs contribute
// their type and mode but no content.
func Directory(root string) (Hash, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return Hash{}, err
	}
	if !info.IsDir() {
		return Hash{}, fmt.Errorf("%s is not a directory", root)
	}

	tree, err := blake3.NewKeyed(treeDomainKey[:])
	if err != nil {
		panic("treehash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		writeField(tree, []byte(filepath.ToSlash(relative)))
		var mode [4]byte
		binary.BigEndian.PutUint32(mode[:], uint32(info.Mode().Perm()|info.Mode()&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky)))

		switch {
		case entry.IsDir():
			tree.Write([]byte{tagDirectory})
			tree.Write(mode[:])

		case info.Mode().IsRegular():
			digest, err := File(path)
			if err != nil {
				return err
			}
			tree.Write([]byte{tagFile})
			tree.Write(mode[:])
			tree.Write(digest[:])

		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			tree.Write([]byte{tagSymlink})
			writeField(tree, []byte(target))

		default:
			tree.Write([]byte{tagOther})
			tree.Write(mode[:])
			var kind [4]byte
			binary.BigEndian.PutUint32(kind[:], uint32(info.Mode().Type()))
			tree.Write(kind[:])
		}
		return nil
	})
	if err != nil {
		return Hash{}, fmt.Errorf("fingerprinting %s: %w", root, err)
	}

	var result Hash
	copy(result[:], tree.Sum(nil))
	return result, nil
}

// File returns the file-domain hash of the contents of path.
func File(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("treehash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, err
	}

	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result, nil
}

// writeField writes a length-prefixed byte string so that adjacent
// fields cannot be confused ("ab"+"c" vs "a"+"bc").
func writeField(w io.Writer, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	w.Write(length[:])
	w.Write(data)
}
