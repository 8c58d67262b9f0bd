// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/keystore"
	filekeystore "github.com/tradenet/gossipd/pkg/keystore/file"
	memkeystore "github.com/tradenet/gossipd/pkg/keystore/mem"
	"github.com/tradenet/gossipd/pkg/logging"
)

const (
	nodeKeyName   = "gossipd"
	libp2pKeyName = "libp2p"
)

type signerConfig struct {
	signer           crypto.Signer
	publicKey        *ecdsa.PublicKey
	libp2pPrivateKey *ecdsa.PrivateKey
}

func (c *command) configureSigner(cmd *cobra.Command, logger logging.Logger) (config *signerConfig, err error) {
	var keystore keystore.Service
	if c.config.GetString(optionNameDataDir) == "" {
		keystore = memkeystore.New()
		logger.Warning("data directory not provided, keys are not persisted")
	} else {
		keystore = filekeystore.New(filepath.Join(c.config.GetString(optionNameDataDir), "keys"))
	}

	password, err := c.password(cmd, keystore)
	if err != nil {
		return nil, err
	}

	nodeKey, created, err := keystore.Key(nodeKeyName, password)
	if err != nil {
		return nil, fmt.Errorf("node key: %w", err)
	}
	publicKey, err := crypto.NewPublicKey(&nodeKey.PublicKey)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Infof("new node key created: %s", publicKey)
	} else {
		logger.Infof("using existing node key: %s", publicKey)
	}

	libp2pPrivateKey, created, err := keystore.Key(libp2pKeyName, password)
	if err != nil {
		return nil, fmt.Errorf("libp2p key: %w", err)
	}
	if created {
		logger.Debugf("new libp2p key created")
	} else {
		logger.Debugf("using existing libp2p key")
	}

	return &signerConfig{
		signer:           crypto.NewDefaultSigner(nodeKey),
		publicKey:        &nodeKey.PublicKey,
		libp2pPrivateKey: libp2pPrivateKey,
	}, nil
}

// password returns the keystore password from the configuration, from the
// password file or from the terminal, in that order. A new password is
// asked twice.
func (c *command) password(cmd *cobra.Command, keystore keystore.Service) (password string, err error) {
	if p := c.config.GetString(optionNamePassword); p != "" {
		return p, nil
	}
	if file := c.config.GetString(optionNamePasswordFile); file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return bytes2Password(b), nil
	}

	// if libp2p key exists we can assume all required keys exist
	// so prompt for a password to unlock them
	exists, err := keystore.Exists(libp2pKeyName)
	if err != nil {
		return "", err
	}
	if exists {
		return terminalPromptPassword(cmd, c.passwordReader, "Password")
	}

	cmd.Println(`
Welcome to gossipd. A password is needed to encrypt the node keys.
It is not possible to recover the keys without it.`)
	password, err = terminalPromptPassword(cmd, c.passwordReader, "Password")
	if err != nil {
		return "", err
	}
	confirm, err := terminalPromptPassword(cmd, c.passwordReader, "Confirm password")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords are not the same")
	}
	return password, nil
}

func bytes2Password(b []byte) string {
	return strings.TrimSpace(string(b))
}
