// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package file

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/tradenet/gossipd/pkg/crypto"
)

// Service is the file-based keystore.Service implementation.
//
// Keys are stored in directory where each private key is stored in a file,
// which is encrypted with symmetric key using some password.
type Service struct {
	fs  afero.Fs
	dir string
}

// New creates new file-based keystore.Service implementation on the
// operating system filesystem.
func New(dir string) *Service {
	return NewWithFs(afero.NewOsFs(), dir)
}

// NewWithFs creates new file-based keystore.Service implementation on fs.
func NewWithFs(fs afero.Fs, dir string) *Service {
	return &Service{fs: fs, dir: dir}
}

func (s *Service) Exists(name string) (bool, error) {
	data, err := s.read(name)
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

func (s *Service) Key(name, password string) (pk *ecdsa.PrivateKey, created bool, err error) {
	data, err := s.read(name)
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		pk, err = crypto.GenerateSecp256k1Key()
		if err != nil {
			return nil, false, fmt.Errorf("generate secp256k1 key: %w", err)
		}

		d, err := encryptKey(pk, password)
		if err != nil {
			return nil, false, err
		}

		filename := s.keyFilename(name)
		if err := s.fs.MkdirAll(filepath.Dir(filename), 0700); err != nil {
			return nil, false, err
		}
		if err := afero.WriteFile(s.fs, filename, d, 0600); err != nil {
			return nil, false, err
		}
		return pk, true, nil
	}

	pk, err = decryptKey(data, password)
	if err != nil {
		return nil, false, err
	}
	return pk, false, nil
}

func (s *Service) read(name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.keyFilename(name))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}

func (s *Service) keyFilename(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.key", name))
}
